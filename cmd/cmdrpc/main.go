// Package main is the entrypoint for cmdrpc: a command router server and a
// client for calling one.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/command"

	"github.com/morezero/cmdrpc/internal/config"
	"github.com/morezero/cmdrpc/internal/server"
	"github.com/morezero/cmdrpc/pkg/client"
	"github.com/morezero/cmdrpc/pkg/commsutil"
	"github.com/morezero/cmdrpc/pkg/registry"
)

const usage = `Usage: cmdrpc [command]
       cmdrpc serve                              Start the command router (HTTP, optional NATS).
       cmdrpc call <endpoint> <cmd> [input-json] Call a command and print its output.
       cmdrpc body <endpoint> <cmd> [input-json] Call a command and print the whole envelope.

Commands:
  serve   (default) Serve ping, info and echo over HTTP and, with COMMS_URL, over NATS.
  call    Print the output of a successful call; a failure envelope exits non-zero.
  body    Print the envelope whether or not the call succeeded.

An endpoint starting with http:// or https:// is called over HTTP; anything
else is a NATS subject reached through COMMS_URL.

Environment: HTTP_PORT (default 3000), CMDRPC_HTTP_ADDR, COMMS_URL, SERVICE_NAME,
SERVICE_VERSION, CMDRPC_SUBJECT, CMDRPC_ERROR_EVENT_SUBJECT, SHUTDOWN_TIMEOUT,
CLIENT_TIMEOUT, METRICS_ENABLED, LOG_LEVEL, LOG_FORMAT.
`

func main() {
	command.RunOrFail(newRoot().NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newRoot() *command.C {
	serve := func(env *command.Env) error {
		if len(env.Args) != 0 {
			return env.Usagef("unknown command %q", env.Args[0])
		}
		return server.Run(serveHandlers())
	}
	call := func(kind string) func(*command.Env) error {
		return func(env *command.Env) error {
			if len(env.Args) < 2 || len(env.Args) > 3 {
				return env.Usagef("require <endpoint> <cmd> [input-json]")
			}
			return runCall(context.Background(), kind, env.Args, os.Stdout)
		}
	}
	return &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "[command]",
		Help:  usage,
		Run:   serve,
		Commands: []*command.C{
			{
				Name: "serve",
				Help: "Start the command router (HTTP, optional NATS).",
				Run:  serve,
			},
			{
				Name:  "call",
				Usage: "<endpoint> <cmd> [input-json]",
				Help:  "Call a command and print its output. A failure envelope is an error.",
				Run:   call("call"),
			},
			{
				Name:  "body",
				Usage: "<endpoint> <cmd> [input-json]",
				Help:  "Call a command and print the whole envelope.",
				Run:   call("body"),
			},
			command.HelpCommand(nil),
		},
	}
}

// serveHandlers are served beside the builtins by "cmdrpc serve".
func serveHandlers() map[string]registry.Handler {
	return map[string]registry.Handler{
		"echo": func(_ context.Context, input json.RawMessage) (interface{}, error) {
			if len(input) == 0 {
				return nil, nil
			}
			return input, nil
		},
	}
}

func runCall(ctx context.Context, kind string, args []string, w io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("require <endpoint> <cmd> [input-json]")
	}
	endpoint, cmd := args[0], args[1]
	var input interface{}
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("input is not valid JSON: %s", args[2])
		}
		input = json.RawMessage(args[2])
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForClient(); err != nil {
		return err
	}
	c, closeFn, err := newClient(cfg, endpoint)
	if err != nil {
		return err
	}
	defer closeFn()

	var out interface{}
	switch kind {
	case "body":
		out, err = c.CallForBody(ctx, endpoint, cmd, input)
	default:
		out, err = c.CallForOk(ctx, endpoint, cmd, input)
	}
	if err != nil {
		return err
	}
	return printJSON(w, out)
}

// newClient returns a client for endpoint and a function releasing any
// connection it holds.
func newClient(cfg *config.Config, endpoint string) (*client.Client, func(), error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		f := &client.HTTPFetcher{Client: &http.Client{Timeout: cfg.ClientTimeout}}
		return client.NewClient(f), func() {}, nil
	}
	if cfg.COMMSURL == "" {
		return nil, nil, fmt.Errorf("endpoint %q is a NATS subject but COMMS_URL is not set", endpoint)
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return nil, nil, err
	}
	f := &client.NATSFetcher{Conn: nc, Timeout: cfg.ClientTimeout}
	return client.NewClient(f), nc.Close, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
