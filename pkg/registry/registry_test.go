package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const registryTestPrefix = "registry:registry_test"

// captureLogs routes the default slog logger into a buffer for the duration
// of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func constHandler(v interface{}) Handler {
	return func(context.Context, json.RawMessage) (interface{}, error) { return v, nil }
}

func call(t *testing.T, h Handler) interface{} {
	t.Helper()
	v, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("%s - handler failed: %v", registryTestPrefix, err)
	}
	return v
}

func TestNewRegistry_BuiltinsAndUser(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{
		Builtins: Builtins(nil),
		Handlers: map[string]Handler{"add": constHandler(3)},
	})

	want := []string{"add", "info", "ping"}
	if diff := cmp.Diff(want, reg.Commands()); diff != "" {
		t.Errorf("%s - Commands() mismatch (-want +got):\n%s", registryTestPrefix, diff)
	}
	h, ok := reg.Lookup("ping")
	if !ok {
		t.Fatalf("%s - expected ping builtin", registryTestPrefix)
	}
	if got := call(t, h); got != "pong" {
		t.Errorf("%s - ping = %v, want pong", registryTestPrefix, got)
	}
}

func TestNewRegistry_UserOverridesBuiltin(t *testing.T) {
	logs := captureLogs(t)
	reg := NewRegistry(NewRegistryParams{
		Builtins: Builtins(nil),
		Handlers: map[string]Handler{"ping": constHandler("pong~")},
	})

	h, _ := reg.Lookup("ping")
	if got := call(t, h); got != "pong~" {
		t.Errorf("%s - ping = %v, want pong~", registryTestPrefix, got)
	}
	if strings.Contains(logs.String(), "duplicate cmd patterns") {
		t.Errorf("%s - same-key override must not warn, logs: %s", registryTestPrefix, logs)
	}
}

func TestNewRegistry_CollisionWarnsLastWins(t *testing.T) {
	logs := captureLogs(t)
	reg := NewRegistry(NewRegistryParams{
		Builtins: Builtins(nil),
		Handlers: map[string]Handler{
			"get/user?admin&by=id": constHandler("first"),
			"get/user?by=id&admin": constHandler("second"),
			"ping?":                constHandler("user ping"),
		},
	})

	if reg.Len() != 3 {
		t.Errorf("%s - Len() = %d, want 3", registryTestPrefix, reg.Len())
	}
	// Keys are applied in sorted order, so "by=id&admin" lands last.
	h, _ := reg.Lookup("get/user?admin&by=id")
	if got := call(t, h); got != "second" {
		t.Errorf("%s - collision winner = %v, want second", registryTestPrefix, got)
	}
	// User entries are applied after builtins.
	h, _ = reg.Lookup("ping")
	if got := call(t, h); got != "user ping" {
		t.Errorf("%s - ping = %v, want user ping", registryTestPrefix, got)
	}
	for _, key := range []string{"get/user?admin&by=id", "ping"} {
		if !strings.Contains(logs.String(), "duplicate cmd patterns: "+key) {
			t.Errorf("%s - expected collision warning for %q, logs: %s", registryTestPrefix, key, logs)
		}
	}
}

func TestLookup_PermutedQuery(t *testing.T) {
	reg := NewRegistry(NewRegistryParams{
		Handlers: map[string]Handler{"get/user?admin&by=id": constHandler("bob")},
	})
	for _, cmd := range []string{"get/user?admin&by=id", "get/user?by=id&admin"} {
		if _, ok := reg.Lookup(cmd); !ok {
			t.Errorf("%s - Lookup(%q) found nothing", registryTestPrefix, cmd)
		}
	}
	if _, ok := reg.Lookup("get/user?admin"); ok {
		t.Errorf("%s - Lookup with a different query must miss", registryTestPrefix)
	}
}

func TestNewRegistry_NilHandlerIgnored(t *testing.T) {
	captureLogs(t)
	reg := NewRegistry(NewRegistryParams{Handlers: map[string]Handler{"nothing": nil}})
	if _, ok := reg.Lookup("nothing"); ok {
		t.Errorf("%s - nil handler must not be registered", registryTestPrefix)
	}
}

type fakeHost struct {
	hostErr error
}

func (f fakeHost) Hostname() (string, error) {
	if f.hostErr != nil {
		return "", f.hostErr
	}
	return "box-1", nil
}
func (fakeHost) IPv4Addrs() ([]string, error) { return []string{"10.0.0.7"}, nil }
func (fakeHost) Pid() int                     { return 4242 }
func (fakeHost) Now() time.Time               { return time.UnixMilli(1700000000123).In(time.FixedZone("X", 3600)) }

func TestInfoBuiltin(t *testing.T) {
	h := Builtins(fakeHost{})[CmdInfo]
	got := call(t, h)

	want := &InfoOutput{
		TimeString: "2023-11-14T22:13:20.123Z",
		Time:       1700000000123,
		Pid:        4242,
		Hostname:   "box-1",
		IPs:        []string{"10.0.0.7"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s - info mismatch (-want +got):\n%s", registryTestPrefix, diff)
	}
}

func TestInfo_HostnameFailure(t *testing.T) {
	captureLogs(t)
	out := Info(fakeHost{hostErr: errors.New("no name")})
	if out.Hostname != "" {
		t.Errorf("%s - Hostname = %q, want empty", registryTestPrefix, out.Hostname)
	}
	if out.Pid != 4242 {
		t.Errorf("%s - Pid = %d, want 4242", registryTestPrefix, out.Pid)
	}
}

func TestOSHost(t *testing.T) {
	out := Info(OSHost{})
	if out.Pid <= 0 {
		t.Errorf("%s - Pid = %d, want positive", registryTestPrefix, out.Pid)
	}
	if out.IPs == nil {
		t.Errorf("%s - IPs must be non-nil", registryTestPrefix)
	}
	if _, err := time.Parse(time.RFC3339Nano, out.TimeString); err != nil {
		t.Errorf("%s - TimeString not RFC3339: %v", registryTestPrefix, err)
	}
}
