package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/cmdrpc/pkg/registry"
	"github.com/morezero/cmdrpc/pkg/result"
)

// PanicError wraps a non-error value recovered from a panicking handler.
// Value stays out of the flattened error; only name and message are sent.
type PanicError struct {
	Value interface{} `json:"-"`
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Name implements result.Namer.
func (e *PanicError) Name() string { return "PanicError" }

// run executes h and sends exactly one response for it. A handler error, a
// panic, or an envelope that cannot be encoded all take the exception path.
func (rt *Router) run(ctx context.Context, h registry.Handler, input json.RawMessage, sink ResponseSink) string {
	res, err := invoke(ctx, h, input)
	if err == nil {
		if e := res.Err(); e != nil {
			rt.guard(ctx, "errorLogger", func() { rt.opts.ErrorLogger(ctx, e) })
		}
		var body json.RawMessage
		if body, err = encodeEnvelope(res); err == nil {
			send(ctx, sink, http.StatusOK, body)
			if res.IsOk() {
				return DispositionOk
			}
			return DispositionFail
		}
	}

	rt.guard(ctx, "errorLogger", func() { rt.opts.ErrorLogger(ctx, err) })
	rt.guard(ctx, "errorHandler", func() { rt.opts.ErrorHandler(ctx, err, sink, input) })
	if !sink.Sent() {
		slog.Warn(fmt.Sprintf("%s - id=%s errorHandler sent no response, using default", logPrefix, RequestID(ctx)))
		DefaultErrorHandler(ctx, err, sink, input)
	}
	return DispositionException
}

// encodeEnvelope serializes res before anything is sent, so values JSON
// cannot represent (NaN, infinities, channels, funcs) surface as errors here
// rather than inside the sink.
func encodeEnvelope(res *result.Result) (json.RawMessage, error) {
	data, err := json.Marshal(res.ToObject())
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// invoke calls h, converting its return value to a Result and any panic to
// an error.
func invoke(ctx context.Context, h registry.Handler, input json.RawMessage) (res *result.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			if perr, ok := p.(error); ok {
				err = perr
			} else {
				err = &PanicError{Value: p}
			}
		}
	}()

	v, err := h(ctx, input)
	if err != nil {
		return nil, err
	}
	return asResult(v), nil
}

func asResult(v interface{}) *result.Result {
	switch r := v.(type) {
	case *result.Result:
		if r == nil {
			return result.Ok(nil, nil)
		}
		return r
	case result.Result:
		return &r
	default:
		return result.Ok(nil, v)
	}
}

// guard runs a policy callback, containing any panic it raises.
func (rt *Router) guard(ctx context.Context, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error(fmt.Sprintf("%s - id=%s %s panicked: %v", logPrefix, RequestID(ctx), name, p))
		}
	}()
	fn()
}
