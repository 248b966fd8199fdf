// Package registry holds the command handler table consulted by the router.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/morezero/cmdrpc/pkg/cmdpattern"
)

const logPrefix = "registry:registry"

// Handler executes one command. input is the raw "input" value of the
// request, or nil when the request carried none.
//
// A handler may return a *result.Result to control the envelope directly.
// Any other value is sent as the output of a success envelope. A non-nil
// error is treated as an uncaught exception.
type Handler func(ctx context.Context, input json.RawMessage) (interface{}, error)

// Registry maps normalized command patterns to handlers. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	// Builtins seed the table. Nil means no builtins.
	Builtins map[string]Handler
	// Handlers are overlaid on the builtins. A handler registered under the
	// same raw key as a builtin replaces it.
	Handlers map[string]Handler
}

// NewRegistry builds a registry from builtins then user handlers. When two
// distinct raw keys normalize to the same pattern a warning is logged and
// the later entry wins. Within each source, keys are applied in sorted
// order.
func NewRegistry(params NewRegistryParams) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	for _, key := range sortedKeys(params.Builtins) {
		if _, overridden := params.Handlers[key]; overridden {
			continue
		}
		r.insert(key, params.Builtins[key])
	}
	for _, key := range sortedKeys(params.Handlers) {
		r.insert(key, params.Handlers[key])
	}
	return r
}

func (r *Registry) insert(raw string, h Handler) {
	if h == nil {
		slog.Warn(fmt.Sprintf("%s - ignoring nil handler for cmd %q", logPrefix, raw))
		return
	}
	pattern := cmdpattern.Normalize(raw)
	if _, exists := r.handlers[pattern]; exists {
		slog.Warn(fmt.Sprintf("%s - duplicate cmd patterns: %s", logPrefix, pattern))
	}
	r.handlers[pattern] = h
}

// Lookup returns the handler registered for cmd, if any.
func (r *Registry) Lookup(cmd string) (Handler, bool) {
	h, ok := r.handlers[cmdpattern.Normalize(cmd)]
	return h, ok
}

// Commands returns the registered patterns in sorted order.
func (r *Registry) Commands() []string {
	return sortedKeys(r.handlers)
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int { return len(r.handlers) }

func sortedKeys(m map[string]Handler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
