package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/cmdrpc/pkg/dispatcher"
)

const loggerLogPrefix = "events:logger"

// ErrorLogger returns a dispatcher.ErrorLogger that logs err the way the
// default logger does and then publishes it through pub. Publish failures
// are logged and otherwise ignored; they never affect the response.
func ErrorLogger(service string, pub EventPublisher) dispatcher.ErrorLogger {
	if pub == nil {
		pub = &NoOpPublisher{}
	}
	return func(ctx context.Context, err interface{}) {
		dispatcher.DefaultErrorLogger(ctx, err)
		event := NewErrorEvent(ctx, service, err, time.Now())
		if perr := pub.PublishError(ctx, event); perr != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish error event for cmd=%s: %v", loggerLogPrefix, event.Cmd, perr))
		}
	}
}
