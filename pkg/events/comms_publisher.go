package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cmdrpc/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject is the base error subject; defaults to commsutil.SubjectErrorEvents.
	Subject string
}

// CommsPublisher sends each error event twice: on <subject>.<cmd> for
// consumers watching one command, and on <subject> for consumers watching
// all of them.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, subject: commsutil.SubjectErrorEvents}
	if opts != nil && opts.Subject != "" {
		p.subject = opts.Subject
	}
	return p
}

// PublishError implements EventPublisher. It stops at the first subject
// that fails; publishing is fire-and-forget, so success means the event was
// handed to the connection, not that anyone received it.
func (p *CommsPublisher) PublishError(_ context.Context, event *ErrorEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - cmd=%s: %w", commsPublisherLogPrefix, event.Cmd, err)
	}
	for _, subject := range p.subjects(event.Cmd) {
		if err := p.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - cmd=%s id=%s error event sent", commsPublisherLogPrefix, event.Cmd, event.RequestID))
	return nil
}

func (p *CommsPublisher) subjects(cmd string) []string {
	return []string{commsutil.BuildErrorSubject(p.subject, cmd), p.subject}
}
