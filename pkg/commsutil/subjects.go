package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectCommands    = "cmdrpc.v1"
	SubjectErrorEvents = "cmdrpc.errors"
)

// StatusHeader carries the transport status of a reply, which NATS messages
// otherwise lack.
const StatusHeader = "Cmdrpc-Status"

// BuildErrorSubject builds the per-command error event subject below base.
// Characters that are not valid in a subject token are replaced with "_".
func BuildErrorSubject(base, cmd string) string {
	return fmt.Sprintf("%s.%s", base, SubjectToken(cmd))
}

// SubjectToken makes s usable as a single subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
