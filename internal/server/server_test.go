package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cmdrpc/internal/config"
	"github.com/morezero/cmdrpc/pkg/client"
	"github.com/morezero/cmdrpc/pkg/events"
	"github.com/morezero/cmdrpc/pkg/registry"
)

const serverTestPrefix = "server:server_test"

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		COMMSName:       "cmdrpc-test",
		ServiceVersion:  "1.2.3",
		Subject:         "cmdrpc.test",
		ShutdownTimeout: 5 * time.Second,
		ClientTimeout:   5 * time.Second,
		MetricsEnabled:  true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func testHandlers() map[string]registry.Handler {
	return map[string]registry.Handler{
		"echo": func(_ context.Context, input json.RawMessage) (interface{}, error) {
			var v interface{}
			if len(input) == 0 {
				return nil, nil
			}
			err := json.Unmarshal(input, &v)
			return v, err
		},
		"explode": func(context.Context, json.RawMessage) (interface{}, error) {
			return nil, errors.New("exploded")
		},
	}
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - GET %s returned non-JSON body %q", serverTestPrefix, path, rec.Body.String())
	}
	return rec.Code, body
}

func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   commsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceVersion = "latest"
	if _, err := NewServer(NewServerParams{Config: cfg}); err == nil {
		t.Fatalf("%s - expected error for invalid SERVICE_VERSION", serverTestPrefix)
	}
}

func TestNewServer_UnreachableComms(t *testing.T) {
	cfg := testConfig()
	cfg.COMMSURL = "invalid://not-a-nats-server"
	if _, err := NewServer(NewServerParams{Config: cfg}); err == nil {
		t.Fatalf("%s - expected error for unreachable COMMS_URL", serverTestPrefix)
	}
}

func TestHealth_WithoutComms(t *testing.T) {
	s, err := NewServer(NewServerParams{Config: testConfig(), Handlers: testHandlers()})
	if err != nil {
		t.Fatalf("%s - NewServer failed: %v", serverTestPrefix, err)
	}
	defer s.Close()

	status, body := get(t, s.Handler(), "/health")
	if status != http.StatusOK {
		t.Errorf("%s - /health status = %d, want 200", serverTestPrefix, status)
	}
	if body["status"] != "healthy" || body["version"] != "1.2.3" || body["comms"] != "disabled" {
		t.Errorf("%s - /health body = %v", serverTestPrefix, body)
	}
	// ping, info, echo, explode
	if body["commands"] != 4.0 {
		t.Errorf("%s - commands = %v, want 4", serverTestPrefix, body["commands"])
	}
}

func TestReady_BeforeServe(t *testing.T) {
	s, err := NewServer(NewServerParams{Config: testConfig()})
	if err != nil {
		t.Fatalf("%s - NewServer failed: %v", serverTestPrefix, err)
	}
	defer s.Close()

	status, body := get(t, s.Handler(), "/ready")
	if status != http.StatusServiceUnavailable || body["status"] != "not ready" {
		t.Errorf("%s - /ready = %d %v, want 503 not ready", serverTestPrefix, status, body)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	s, err := NewServer(NewServerParams{Config: cfg})
	if err != nil {
		t.Fatalf("%s - NewServer failed: %v", serverTestPrefix, err)
	}
	defer s.Close()

	// With metrics off, /metrics falls through to the command router, which
	// rejects a GET.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("%s - GET /metrics status = %d, want 501", serverTestPrefix, rec.Code)
	}
}

func TestServe_Lifecycle(t *testing.T) {
	defer leaktest.Check(t)()

	s, err := NewServer(NewServerParams{Config: testConfig(), Handlers: testHandlers()})
	if err != nil {
		t.Fatalf("%s - NewServer failed: %v", serverTestPrefix, err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("%s - listen failed: %v", serverTestPrefix, err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		rsp, err := http.Get(base + "/ready")
		if err == nil {
			rsp.Body.Close()
			if rsp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s - server never became ready", serverTestPrefix)
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := client.CallForOk(ctx, base, "echo", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("%s - echo failed: %v", serverTestPrefix, err)
	}
	if m, _ := got.(map[string]interface{}); m["hello"] != "world" {
		t.Errorf("%s - echo = %v", serverTestPrefix, got)
	}

	rsp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("%s - GET /metrics failed: %v", serverTestPrefix, err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(rsp.Body)
	rsp.Body.Close()
	if !strings.Contains(buf.String(), `cmdrpc_dispatch_total{disposition="ok"} 1`) {
		t.Errorf("%s - metrics missing ok dispatch:\n%s", serverTestPrefix, buf.String())
	}
	http.DefaultClient.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("%s - Serve returned %v", serverTestPrefix, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - Serve did not return after cancel", serverTestPrefix)
	}
}

func TestServe_WithComms(t *testing.T) {
	url := startNATS(t)
	cfg := testConfig()
	cfg.COMMSURL = url
	cfg.ErrorEventSubject = "cmdrpc.test.errors"

	s, err := NewServer(NewServerParams{Config: cfg, Handlers: testHandlers()})
	if err != nil {
		t.Fatalf("%s - NewServer failed: %v", serverTestPrefix, err)
	}
	defer s.Close()

	status, body := get(t, s.Handler(), "/health")
	if status != http.StatusOK || body["comms"] != "connected" {
		t.Errorf("%s - /health = %d %v", serverTestPrefix, status, body)
	}

	nc, err := comms.Connect(url)
	if err != nil {
		t.Fatalf("%s - failed to connect: %v", serverTestPrefix, err)
	}
	defer nc.Close()

	received := make(chan *events.ErrorEvent, 1)
	sub, err := nc.Subscribe("cmdrpc.test.errors.explode", func(msg *comms.Msg) {
		var ev events.ErrorEvent
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			received <- &ev
		}
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	c := client.NewClient(&client.NATSFetcher{Conn: nc, Timeout: 5 * time.Second})
	got, err := c.CallForOk(context.Background(), cfg.Subject, "ping", nil)
	if err != nil || got != "pong" {
		t.Fatalf("%s - ping over NATS = %v, %v", serverTestPrefix, got, err)
	}

	_, err = c.CallForOk(context.Background(), cfg.Subject, "explode", nil)
	var ce *client.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("%s - expected *CallError, got %v", serverTestPrefix, err)
	}

	select {
	case ev := <-received:
		if ev.Cmd != "explode" || ev.Service != "cmdrpc-test" {
			t.Errorf("%s - error event = %+v", serverTestPrefix, ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for error event", serverTestPrefix)
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	cfg := testConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	if err := SetupLogging(cfg, &buf); err != nil {
		t.Fatalf("%s - SetupLogging failed: %v", serverTestPrefix, err)
	}
	slog.Info("hidden")
	slog.Warn("shown")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Errorf("%s - info record logged at warn level: %s", serverTestPrefix, out)
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(out), &rec); err != nil || rec["msg"] != "shown" {
		t.Errorf("%s - expected one JSON record, got %q", serverTestPrefix, out)
	}

	cfg.LogLevel = "chatty"
	if err := SetupLogging(cfg, &buf); err == nil {
		t.Errorf("%s - expected error for invalid LOG_LEVEL", serverTestPrefix)
	}
}
