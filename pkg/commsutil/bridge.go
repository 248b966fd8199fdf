package commsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cmdrpc/pkg/dispatcher"
)

const bridgeLogPrefix = "commsutil:bridge"

// A Router handles one transport-neutral request. *dispatcher.Router
// satisfies it.
type Router interface {
	Route(ctx context.Context, req dispatcher.Request, sink dispatcher.ResponseSink)
}

// Serve subscribes router to subject. With a non-empty queue, instances
// sharing the queue name split the load. Each message is routed on its own
// goroutine.
//
// NATS requests carry no method, so every message is treated as a POST. A
// message without a Content-Type header is assumed to be JSON.
func Serve(nc *comms.Conn, subject, queue string, router Router) (*comms.Subscription, error) {
	handle := func(msg *comms.Msg) {
		go router.Route(context.Background(), msgRequest{msg: msg}, &msgSink{msg: msg})
	}

	var (
		sub *comms.Subscription
		err error
	)
	if queue != "" {
		sub, err = nc.QueueSubscribe(subject, queue, handle)
	} else {
		sub, err = nc.Subscribe(subject, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", bridgeLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving commands on %s", bridgeLogPrefix, subject))
	return sub, nil
}

type msgRequest struct {
	msg *comms.Msg
}

func (r msgRequest) Method() string { return http.MethodPost }

func (r msgRequest) Header(name string) string {
	v := r.msg.Header.Get(name)
	if v == "" && http.CanonicalHeaderKey(name) == "Content-Type" {
		return ContentTypeJSON
	}
	return v
}

func (r msgRequest) DecodeJSON(v interface{}) error {
	return json.Unmarshal(r.msg.Data, v)
}

type msgSink struct {
	mu   sync.Mutex
	msg  *comms.Msg
	sent bool
}

func (s *msgSink) Send(status int, body interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent {
		return dispatcher.ErrAlreadySent
	}
	s.sent = true

	data, ct, err := EncodeBody(body)
	if err != nil {
		status = http.StatusInternalServerError
		data, ct = []byte("internal error"), ContentTypeText
	}
	reply := &comms.Msg{Data: data, Header: comms.Header{}}
	reply.Header.Set(StatusHeader, strconv.Itoa(status))
	reply.Header.Set("Content-Type", ct)
	if rerr := s.msg.RespondMsg(reply); rerr != nil {
		return rerr
	}
	return err
}

func (s *msgSink) Sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
