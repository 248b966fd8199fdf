package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cmdrpc/pkg/commsutil"
)

// Response is a raw transport response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether Status is a 2xx success status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error { return json.Unmarshal(r.Body, v) }

// A Fetcher sends one request body to an endpoint and returns the raw
// response. Transport failures are reported as errors; non-success statuses
// are not.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint, contentType string, body []byte) (*Response, error)
}

// DefaultTimeout bounds calls made with a zero-valued HTTPFetcher.
const DefaultTimeout = 30 * time.Second

// HTTPFetcher POSTs to HTTP endpoints.
type HTTPFetcher struct {
	// Client is the underlying HTTP client. Nil uses a client with
	// DefaultTimeout.
	Client *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: DefaultTimeout}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint, contentType string, body []byte) (*Response, error) {
	hc := f.Client
	if hc == nil {
		hc = defaultHTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	rsp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", endpoint, err)
	}
	return &Response{Status: rsp.StatusCode, Header: rsp.Header, Body: data}, nil
}

// NATSFetcher sends requests over NATS request/reply. The endpoint is the
// subject served by the remote router.
type NATSFetcher struct {
	Conn *comms.Conn
	// Timeout applies when ctx has no deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Fetch implements Fetcher.
func (f *NATSFetcher) Fetch(ctx context.Context, subject, contentType string, body []byte) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := f.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg := comms.NewMsg(subject)
	msg.Header.Set("Content-Type", contentType)
	msg.Data = body

	reply, err := f.Conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, err
	}

	rsp := &Response{Status: http.StatusOK, Header: http.Header{}, Body: reply.Data}
	for k, vs := range reply.Header {
		for _, v := range vs {
			rsp.Header.Add(k, v)
		}
	}
	if s := reply.Header.Get(commsutil.StatusHeader); s != "" {
		status, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header %q from %s", commsutil.StatusHeader, s, subject)
		}
		rsp.Status = status
	}
	return rsp, nil
}
