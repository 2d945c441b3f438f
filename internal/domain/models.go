package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied at registration when a node leaves them unset.
const (
	DefaultMaxCheckAttempts = 3
	DefaultRetryIntervalSec = 15
	DefaultTimeoutSec       = 10
)

// NodeStatus is the debounced availability state of a node.
type NodeStatus string

const (
	// StatusOnline means the node responded to its last check.
	StatusOnline NodeStatus = "Online"
	// StatusDegraded is the soft state: one or more failures observed,
	// but not yet enough consecutive ones to confirm the node down.
	StatusDegraded NodeStatus = "Degraded"
	// StatusOffline is the hard state: failures confirmed across the
	// node's max check attempts.
	StatusOffline NodeStatus = "Offline"
)

// DetailKind tags the MonitorDetail variant.
type DetailKind string

const (
	KindHTTP DetailKind = "http"
	KindTCP  DetailKind = "tcp"
	KindPing DetailKind = "ping"
	KindSSH  DetailKind = "ssh"
)

// MonitorDetail is the per-kind target configuration. The kind tag decides
// which fields are meaningful:
//
//   - http: URL, ExpectedStatus
//   - tcp:  Host, Port, TimeoutSec
//   - ping: Host, Count, TimeoutSec
//   - ssh:  Host, Port, TimeoutSec
type MonitorDetail struct {
	Kind           DetailKind `json:"type"`
	URL            string     `json:"url,omitempty"`
	ExpectedStatus int        `json:"expected_status,omitempty"`
	Host           string     `json:"host,omitempty"`
	Port           int        `json:"port,omitempty"`
	Count          int        `json:"count,omitempty"`
	TimeoutSec     int        `json:"timeout,omitempty"`
}

// Timeout returns the hard per-check bound for this target.
func (d MonitorDetail) Timeout() time.Duration {
	if d.TimeoutSec > 0 {
		return time.Duration(d.TimeoutSec) * time.Second
	}
	return DefaultTimeoutSec * time.Second
}

// Target returns a short human-readable target string for logs and alerts.
func (d MonitorDetail) Target() string {
	switch d.Kind {
	case KindHTTP:
		return d.URL
	case KindTCP, KindSSH:
		return fmt.Sprintf("%s:%d", d.Host, d.Port)
	default:
		return d.Host
	}
}

// Validate rejects malformed target configurations at registration time so
// they never reach the scheduler.
func (d MonitorDetail) Validate() error {
	switch d.Kind {
	case KindHTTP:
		if d.URL == "" {
			return errors.New("http detail: url is required")
		}
		u, err := url.Parse(NormalizeHTTPURL(d.URL))
		if err != nil || u.Hostname() == "" {
			return fmt.Errorf("http detail: invalid url %q", d.URL)
		}
		if d.ExpectedStatus < 100 || d.ExpectedStatus > 599 {
			return fmt.Errorf("http detail: invalid expected status %d", d.ExpectedStatus)
		}
	case KindTCP:
		if d.Host == "" {
			return errors.New("tcp detail: host is required")
		}
		if d.Port < 1 || d.Port > 65535 {
			return fmt.Errorf("tcp detail: invalid port %d", d.Port)
		}
	case KindPing:
		if d.Host == "" {
			return errors.New("ping detail: host is required")
		}
		if d.Count < 1 {
			return fmt.Errorf("ping detail: invalid count %d", d.Count)
		}
	case KindSSH:
		if d.Host == "" {
			return errors.New("ssh detail: host is required")
		}
		if d.Port < 1 || d.Port > 65535 {
			return fmt.Errorf("ssh detail: invalid port %d", d.Port)
		}
	default:
		return fmt.Errorf("unknown monitor kind %q", d.Kind)
	}
	return nil
}

// NormalizeHTTPURL ensures the URL carries a scheme, defaulting to https.
// Explicit schemes and port numbers pass through untouched.
func NormalizeHTTPURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Node is a monitoring subject. The engine never mutates a Node; runtime
// status lives in the scheduler's per-node state.
type Node struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Detail           MonitorDetail `json:"detail"`
	IntervalSec      int           `json:"monitoring_interval"`
	RetryIntervalSec int           `json:"retry_interval"`
	MaxCheckAttempts int           `json:"max_check_attempts"`
	Enabled          bool          `json:"enabled"`
	CredentialID     string        `json:"credential_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Interval is the normal check cadence.
func (n *Node) Interval() time.Duration {
	return time.Duration(n.IntervalSec) * time.Second
}

// RetryInterval is the shorter cadence used while the node is Degraded, so
// a hard down is confirmed (or refuted) quickly.
func (n *Node) RetryInterval() time.Duration {
	if n.RetryIntervalSec > 0 {
		return time.Duration(n.RetryIntervalSec) * time.Second
	}
	return n.Interval()
}

// Validate checks the node definition; invalid nodes are rejected at
// registration and never scheduled.
func (n *Node) Validate() error {
	if n.Name == "" {
		return errors.New("node name is required")
	}
	if n.IntervalSec <= 0 {
		return fmt.Errorf("monitoring interval must be positive, got %d", n.IntervalSec)
	}
	if n.RetryIntervalSec < 0 {
		return fmt.Errorf("retry interval must not be negative, got %d", n.RetryIntervalSec)
	}
	if n.MaxCheckAttempts < 1 {
		return fmt.Errorf("max check attempts must be at least 1, got %d", n.MaxCheckAttempts)
	}
	return n.Detail.Validate()
}

// ApplyDefaults fills unset tuning fields with the documented defaults.
func (n *Node) ApplyDefaults() {
	if n.MaxCheckAttempts == 0 {
		n.MaxCheckAttempts = DefaultMaxCheckAttempts
	}
	if n.RetryIntervalSec == 0 {
		n.RetryIntervalSec = DefaultRetryIntervalSec
	}
	if n.Detail.TimeoutSec == 0 {
		n.Detail.TimeoutSec = DefaultTimeoutSec
	}
}
