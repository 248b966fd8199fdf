// Package commsutil provides COMMS (NATS) helpers and the bridge that serves
// a command router on a subject.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Reconnect policy for long-lived connections: about two minutes of retries
// before the connection is given up and closed.
const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second
	maxReconnects  = 60
)

// Connect dials url with the connection name shown in NATS monitoring.
// Options in extra override the defaults.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	nc, err := comms.Connect(url, append(connectOptions(name), extra...)...)
	if err != nil {
		return nil, fmt.Errorf("%s - %s as %s: %w", logPrefix, url, name, err)
	}
	slog.Info(fmt.Sprintf("%s - %s connected to %s", logPrefix, name, nc.ConnectedUrl()))
	return nc, nil
}

// connectOptions names the connection and logs its state changes, tagged
// with name so a server and a CLI client in one log can be told apart.
func connectOptions(name string) []comms.Option {
	return []comms.Option{
		comms.Name(name),
		comms.Timeout(connectTimeout),
		comms.ReconnectWait(reconnectWait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - %s lost connection: %v", logPrefix, name, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, name, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(*comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s closed", logPrefix, name))
		}),
	}
}
