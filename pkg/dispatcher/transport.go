package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Request is the inbound side of a transport.
type Request interface {
	Method() string
	// Header returns the value of the named header, or "".
	Header(name string) string
	// DecodeJSON parses the request body into v. It fails on malformed JSON.
	DecodeJSON(v interface{}) error
}

// ResponseSink is the outbound side of a transport. A sink sends at most one
// response; later calls to Send report ErrAlreadySent.
type ResponseSink interface {
	Send(status int, body interface{}) error
	Sent() bool
}

// ErrAlreadySent is returned by a ResponseSink that has already responded.
var ErrAlreadySent = errors.New("response already sent")

// MaxBodyBytes bounds the request body read by the HTTP adapter.
const MaxBodyBytes = 1 << 20

type httpRequest struct {
	r *http.Request
}

// NewHTTPRequest adapts an *http.Request to Request.
func NewHTTPRequest(r *http.Request) Request { return httpRequest{r: r} }

func (h httpRequest) Method() string            { return h.r.Method }
func (h httpRequest) Header(name string) string { return h.r.Header.Get(name) }

func (h httpRequest) DecodeJSON(v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(h.r.Body, MaxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxBodyBytes {
		return fmt.Errorf("body exceeds %d bytes", MaxBodyBytes)
	}
	return json.Unmarshal(data, v)
}

type httpSink struct {
	mu   sync.Mutex
	w    http.ResponseWriter
	sent bool
}

// NewHTTPSink adapts an http.ResponseWriter to ResponseSink. String bodies
// are sent as text/plain, everything else as JSON.
func NewHTTPSink(w http.ResponseWriter) ResponseSink { return &httpSink{w: w} }

func (s *httpSink) Send(status int, body interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent {
		return ErrAlreadySent
	}
	s.sent = true

	var data []byte
	if text, ok := body.(string); ok {
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		data = []byte(text)
	} else {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			http.Error(s.w, "internal error", http.StatusInternalServerError)
			return fmt.Errorf("encode response: %w", err)
		}
		s.w.Header().Set("Content-Type", ContentType)
	}
	s.w.WriteHeader(status)
	_, err := s.w.Write(data)
	return err
}

func (s *httpSink) Sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
