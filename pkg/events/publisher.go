package events

import "context"

// An EventPublisher delivers error events somewhere other services can see
// them. Implementations must be safe for concurrent use: the router calls
// them from every in-flight request.
type EventPublisher interface {
	PublishError(ctx context.Context, event *ErrorEvent) error
}

// NoOpPublisher drops every event. ErrorLogger uses it when no publisher is
// configured.
type NoOpPublisher struct{}

// PublishError discards event.
func (*NoOpPublisher) PublishError(context.Context, *ErrorEvent) error { return nil }

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *ErrorEvent) error

// PublishError calls f.
func (f PublisherFunc) PublishError(ctx context.Context, event *ErrorEvent) error {
	return f(ctx, event)
}
