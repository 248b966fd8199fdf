// Package client calls remote command routers.
//
// Three levels of convenience are offered, each built on the one below:
//
//   - CallForResponse returns the raw transport response.
//   - CallForBody checks the transport status and media type and returns the
//     decoded envelope.
//   - CallForOk additionally requires ok == true and returns the output.
//
// A caller that needs the code of a failure envelope uses CallForBody.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/cmdrpc/pkg/result"
)

const logPrefix = "client:client"

// ContentType is the media type of requests and envelopes.
const ContentType = "application/json"

// CallError reports a call whose response could not be used. Endpoint and
// Body (the raw response text) are always set; Envelope is set when the
// response decoded but reported ok == false.
type CallError struct {
	Endpoint string
	Status   int
	Body     string
	Envelope map[string]interface{}

	reason string
}

func (e *CallError) Error() string {
	if e.Envelope != nil {
		data, err := json.Marshal(e.Envelope)
		if err != nil {
			return fmt.Sprintf("%s %s: %v", e.reason, e.Endpoint, e.Envelope)
		}
		return fmt.Sprintf("%s %s: %s", e.reason, e.Endpoint, data)
	}
	return fmt.Sprintf("%s %s: %s", e.reason, e.Endpoint, e.Body)
}

// Result decodes the failure envelope carried by e, if any.
func (e *CallError) Result() (*result.Result, error) {
	if e.Envelope == nil {
		return nil, fmt.Errorf("%s - no envelope received from %s", logPrefix, e.Endpoint)
	}
	return result.FromObject(e.Envelope)
}

// Client issues calls through a Fetcher. It is safe for concurrent use if its
// Fetcher is.
type Client struct {
	fetcher Fetcher
}

// NewClient creates a Client. A nil fetcher uses an HTTPFetcher with the
// default timeout.
func NewClient(f Fetcher) *Client {
	if f == nil {
		f = &HTTPFetcher{}
	}
	return &Client{fetcher: f}
}

// DefaultClient calls HTTP endpoints with the default timeout.
var DefaultClient = NewClient(nil)

type callRequest struct {
	Cmd   string      `json:"cmd"`
	Input interface{} `json:"input,omitempty"`
}

// CallForResponse sends {cmd, input} to endpoint and returns the response
// without interpreting it. A nil input is omitted from the request.
func (c *Client) CallForResponse(ctx context.Context, endpoint, cmd string, input interface{}) (*Response, error) {
	body, err := json.Marshal(callRequest{Cmd: cmd, Input: input})
	if err != nil {
		return nil, fmt.Errorf("%s - encode request for %s: %w", logPrefix, endpoint, err)
	}
	rsp, err := c.fetcher.Fetch(ctx, endpoint, ContentType, body)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to request %s: %w", logPrefix, endpoint, err)
	}
	return rsp, nil
}

// CallForBody calls endpoint and returns the decoded envelope. The response
// must have a success status, media type application/json, and a JSON
// object body; otherwise a *CallError is returned.
func (c *Client) CallForBody(ctx context.Context, endpoint, cmd string, input interface{}) (map[string]interface{}, error) {
	rsp, err := c.CallForResponse(ctx, endpoint, cmd, input)
	if err != nil {
		return nil, err
	}
	if !rsp.OK() {
		return nil, &CallError{Endpoint: endpoint, Status: rsp.Status, Body: rsp.Text(), reason: "failed to request"}
	}
	invalid := &CallError{Endpoint: endpoint, Status: rsp.Status, Body: rsp.Text(), reason: "invalid body received from"}
	if rsp.Header.Get("Content-Type") != ContentType {
		return nil, invalid
	}
	var body interface{}
	if err := rsp.JSON(&body); err != nil {
		return nil, invalid
	}
	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil, invalid
	}
	return obj, nil
}

// CallForOk calls endpoint and returns the output of a success envelope. A
// failure envelope is reported as a *CallError carrying the envelope.
func (c *Client) CallForOk(ctx context.Context, endpoint, cmd string, input interface{}) (interface{}, error) {
	body, err := c.CallForBody(ctx, endpoint, cmd, input)
	if err != nil {
		return nil, err
	}
	if ok, _ := body["ok"].(bool); !ok {
		data, _ := json.Marshal(body)
		return nil, &CallError{Endpoint: endpoint, Body: string(data), Envelope: body, reason: "failed to request"}
	}
	return body["output"], nil
}

// CallForResponse calls DefaultClient.CallForResponse.
func CallForResponse(ctx context.Context, endpoint, cmd string, input interface{}) (*Response, error) {
	return DefaultClient.CallForResponse(ctx, endpoint, cmd, input)
}

// CallForBody calls DefaultClient.CallForBody.
func CallForBody(ctx context.Context, endpoint, cmd string, input interface{}) (map[string]interface{}, error) {
	return DefaultClient.CallForBody(ctx, endpoint, cmd, input)
}

// CallForOk calls DefaultClient.CallForOk.
func CallForOk(ctx context.Context, endpoint, cmd string, input interface{}) (interface{}, error) {
	return DefaultClient.CallForOk(ctx, endpoint, cmd, input)
}
