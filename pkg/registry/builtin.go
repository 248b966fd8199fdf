package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const builtinLogPrefix = "registry:builtin"

// Builtin command names.
const (
	CmdPing = "ping"
	CmdInfo = "info"
)

// isoMillisLayout matches the ISO form clients of this protocol expect for
// timeString: UTC with millisecond precision.
const isoMillisLayout = "2006-01-02T15:04:05.000Z07:00"

// HostInfo describes the serving process for the info builtin.
type HostInfo interface {
	Hostname() (string, error)
	// IPv4Addrs returns the non-internal IPv4 addresses of the host.
	IPv4Addrs() ([]string, error)
	Pid() int
	Now() time.Time
}

// InfoOutput is the output of the info builtin.
type InfoOutput struct {
	TimeString string   `json:"timeString"`
	Time       int64    `json:"time"`
	Pid        int      `json:"pid"`
	Hostname   string   `json:"hostname"`
	IPs        []string `json:"ips"`
}

// Builtins returns the builtin handlers (ping, info). A nil host uses OSHost.
func Builtins(host HostInfo) map[string]Handler {
	if host == nil {
		host = OSHost{}
	}
	return map[string]Handler{
		CmdPing: func(context.Context, json.RawMessage) (interface{}, error) {
			return "pong", nil
		},
		CmdInfo: func(context.Context, json.RawMessage) (interface{}, error) {
			return Info(host), nil
		},
	}
}

// Info snapshots host. Lookup failures are logged and leave the
// corresponding field empty.
func Info(host HostInfo) *InfoOutput {
	now := host.Now()
	hostname, err := host.Hostname()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - hostname lookup failed: %v", builtinLogPrefix, err))
	}
	ips, err := host.IPv4Addrs()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - interface enumeration failed: %v", builtinLogPrefix, err))
	}
	if ips == nil {
		ips = []string{}
	}
	return &InfoOutput{
		TimeString: now.UTC().Format(isoMillisLayout),
		Time:       now.UnixMilli(),
		Pid:        host.Pid(),
		Hostname:   hostname,
		IPs:        ips,
	}
}

// OSHost reads host details from the operating system.
type OSHost struct{}

// Hostname implements HostInfo.
func (OSHost) Hostname() (string, error) { return os.Hostname() }

// Pid implements HostInfo.
func (OSHost) Pid() int { return os.Getpid() }

// Now implements HostInfo.
func (OSHost) Now() time.Time { return time.Now() }

// IPv4Addrs implements HostInfo.
func (OSHost) IPv4Addrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				out = append(out, ip4.String())
			}
		}
	}
	return out, nil
}
