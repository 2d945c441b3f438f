// Package probe implements one connection strategy per monitor kind.
// Checkers are stateless: given a target configuration and an optional
// decrypted credential they perform a single check and report an Outcome.
// They never touch node state or persistence.
package probe

import (
	"context"
	"time"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// Outcome is the immutable result of a single probe.
//
// LatencyMS is nil when the attempt never completed (timeout, dial error
// before any response); otherwise it is the wall time of the attempt.
type Outcome struct {
	Success   bool
	LatencyMS *float64
	Message   string
}

// Checker performs one probe against a target configuration. The context
// carries the hard timeout; a checker that can outlive its context is a bug.
type Checker interface {
	Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) Outcome
}

func succeed(start time.Time, msg string) Outcome {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return Outcome{Success: true, LatencyMS: &ms, Message: msg}
}

func fail(msg string) Outcome {
	return Outcome{Success: false, Message: msg}
}

func failTimed(start time.Time, msg string) Outcome {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return Outcome{Success: false, LatencyMS: &ms, Message: msg}
}
