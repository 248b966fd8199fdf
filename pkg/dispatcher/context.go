package dispatcher

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	cmdKey
)

// RequestID returns the id assigned to the request being handled, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Cmd returns the command name of the request being handled, or "".
func Cmd(ctx context.Context) string {
	cmd, _ := ctx.Value(cmdKey).(string)
	return cmd
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func withCmd(ctx context.Context, cmd string) context.Context {
	return context.WithValue(ctx, cmdKey, cmd)
}
