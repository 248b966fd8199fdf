package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/cmdrpc/pkg/registry"
)

const logPrefix = "dispatcher:router"

// RequestIDHeader carries a caller-chosen request id. When absent the router
// assigns a random one.
const RequestIDHeader = "X-Request-Id"

// Dispositions reported to an Observer.
const (
	DispositionOk        = "ok"
	DispositionFail      = "fail"
	DispositionException = "exception"
	DispositionUnmatched = "unmatched"
	DispositionRejected  = "rejected"
)

// An Observer is told how each request was disposed of and how long it took.
type Observer interface {
	ObserveDispatch(disposition string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(string, time.Duration) {}

// Router resolves command requests against a handler registry. A Router is
// immutable after construction and safe for concurrent use.
type Router struct {
	registry *registry.Registry
	opts     Options
	observer Observer
}

// NewRouterParams holds parameters for NewRouter.
type NewRouterParams struct {
	// Handlers are user handlers, overlaid on the ping and info builtins.
	Handlers map[string]registry.Handler
	// Options overrides the default policies field by field.
	Options Options
	// Host backs the info builtin. Nil uses registry.OSHost.
	Host registry.HostInfo
	// Observer receives per-request dispositions. Nil disables observation.
	Observer Observer
}

// NewRouter creates a new Router.
func NewRouter(params NewRouterParams) *Router {
	obs := params.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	reg := registry.NewRegistry(registry.NewRegistryParams{
		Builtins: registry.Builtins(params.Host),
		Handlers: params.Handlers,
	})
	slog.Debug(fmt.Sprintf("%s - router ready with %d commands", logPrefix, reg.Len()))
	return &Router{
		registry: reg,
		opts:     params.Options.withDefaults(),
		observer: obs,
	}
}

// Registry returns the handler registry of rt.
func (rt *Router) Registry() *registry.Registry { return rt.registry }

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.Route(r.Context(), NewHTTPRequest(r), NewHTTPSink(w))
}

// Route handles one request, sending exactly one response to sink.
func (rt *Router) Route(ctx context.Context, req Request, sink ResponseSink) {
	start := time.Now()
	id := req.Header(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx = withRequestID(ctx, id)

	disposition, cmd := rt.route(ctx, req, sink)
	elapsed := time.Since(start)
	rt.observer.ObserveDispatch(disposition, elapsed)
	slog.Debug(fmt.Sprintf("%s - id=%s cmd=%s disposition=%s elapsed=%s", logPrefix, id, cmd, disposition, elapsed))
}

// route applies the dispatch rules in order and reports the disposition and
// the command name, if one was decoded.
func (rt *Router) route(ctx context.Context, req Request, sink ResponseSink) (string, string) {
	if req.Method() != http.MethodPost || req.Header("Content-Type") != ContentType {
		return rt.reject(ctx, req, sink), ""
	}
	cr, err := decodeCommand(req)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - id=%s rejecting body: %v", logPrefix, RequestID(ctx), err))
		return rt.reject(ctx, req, sink), ""
	}
	ctx = withCmd(ctx, cr.Cmd)

	h, ok := rt.registry.Lookup(cr.Cmd)
	if !ok {
		return rt.unmatched(ctx, cr, sink), cr.Cmd
	}
	return rt.run(ctx, h, cr.Input, sink), cr.Cmd
}

func (rt *Router) unmatched(ctx context.Context, cr *CommandRequest, sink ResponseSink) string {
	res := DefaultUnmatchedCmdHandler(ctx, cr.Cmd, cr.Input)
	rt.guard(ctx, "unmatchedCmdHandler", func() {
		if r := rt.opts.UnmatchedCmdHandler(ctx, cr.Cmd, cr.Input); r != nil {
			res = r
		}
	})
	body, err := encodeEnvelope(res)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - id=%s unmatchedCmdHandler envelope: %v", logPrefix, RequestID(ctx), err))
		body, _ = encodeEnvelope(DefaultUnmatchedCmdHandler(ctx, cr.Cmd, cr.Input))
	}
	send(ctx, sink, http.StatusOK, body)
	return DispositionUnmatched
}

func (rt *Router) reject(ctx context.Context, req Request, sink ResponseSink) string {
	rt.guard(ctx, "otherRequestHandler", func() { rt.opts.OtherRequestHandler(ctx, req, sink) })
	if !sink.Sent() {
		DefaultOtherRequestHandler(ctx, req, sink)
	}
	return DispositionRejected
}
