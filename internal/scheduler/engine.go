// Package scheduler drives the monitoring loop: it owns the due-time table
// and per-node runtime state, dispatches due probes under a global
// concurrency bound, folds outcomes through the availability state machine,
// and forwards results and transitions to the stores.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/health"
	"github.com/casey/netmon/internal/probe"
	"github.com/casey/netmon/internal/repo"
)

const (
	// DefaultMaxConcurrent bounds simultaneous probes across all nodes.
	DefaultMaxConcurrent = 100
	// DefaultTick is the scheduling pass interval. Every pass dispatches
	// all overdue nodes, so a stalled pass catches up on the next one.
	DefaultTick = time.Second

	// watchdogGrace is how far past its timeout a probe may run before
	// the engine force-resolves it as a timeout failure.
	watchdogGrace = 250 * time.Millisecond
)

// ChangeFunc is called for every confirmed status transition, outside the
// engine lock. Used to hook up alerting.
type ChangeFunc func(node domain.Node, change domain.StatusChange)

// Config wires an Engine.
type Config struct {
	Logger        *zap.Logger
	Checker       probe.Checker
	Credentials   credential.Resolver // may be nil when no node uses credentials
	Results       repo.ResultStore
	Changes       repo.StatusChangeStore
	OnChange      ChangeFunc // may be nil
	Tick          time.Duration
	MaxConcurrent int
}

// Snapshot is the read-only live view of one node's runtime state.
type Snapshot struct {
	NodeID              int64             `json:"node_id"`
	Name                string            `json:"name"`
	Target              string            `json:"target"`
	Status              domain.NodeStatus `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Enabled             bool              `json:"enabled"`
	InFlight            bool              `json:"in_flight"`
	LastCheck           time.Time         `json:"last_check"`
	LastLatencyMS       *float64          `json:"last_latency_ms"`
	NextDue             time.Time         `json:"next_due"`
}

// entry is one node's slot in the due-time table. All fields are guarded
// by Engine.mu; outcome application happens on the single path that owns
// the node's in-flight slot.
type entry struct {
	node          domain.Node
	state         health.State
	lastCheck     time.Time
	lastLatencyMS *float64
	nextDue       time.Time
	inFlight      bool
}

type Engine struct {
	log      *zap.Logger
	checker  probe.Checker
	creds    credential.Resolver
	results  repo.ResultStore
	changes  repo.StatusChangeStore
	onChange ChangeFunc
	tick     time.Duration
	sem      chan struct{}

	mu      sync.Mutex
	nodes   map[int64]*entry
	stopped bool

	wg sync.WaitGroup
}

func New(cfg Config) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		log:      cfg.Logger,
		checker:  cfg.Checker,
		creds:    cfg.Credentials,
		results:  cfg.Results,
		changes:  cfg.Changes,
		onChange: cfg.OnChange,
		tick:     cfg.Tick,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		nodes:    make(map[int64]*entry),
	}
}

// AddNode puts a node under active monitoring. The node must carry a
// registry-assigned ID; invalid definitions are rejected here and never
// reach the due-time table. The first check is due immediately.
func (e *Engine) AddNode(n domain.Node) error {
	n.ApplyDefaults()
	if n.ID == 0 {
		return fmt.Errorf("node %q has no id", n.Name)
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("node %q: %w", n.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[n.ID]; ok {
		return fmt.Errorf("node %d already monitored", n.ID)
	}
	e.nodes[n.ID] = &entry{
		node:    n,
		state:   health.NewState(),
		nextDue: time.Now(),
	}
	e.log.Info("node_added",
		zap.Int64("node_id", n.ID),
		zap.String("name", n.Name),
		zap.String("kind", string(n.Detail.Kind)),
	)
	return nil
}

// UpdateNode replaces a monitored node's configuration while preserving its
// runtime state. The new config takes effect on the next pass; the node is
// made due immediately.
func (e *Engine) UpdateNode(n domain.Node) error {
	n.ApplyDefaults()
	if err := n.Validate(); err != nil {
		return fmt.Errorf("node %q: %w", n.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.nodes[n.ID]
	if !ok {
		return fmt.Errorf("node %d not monitored", n.ID)
	}
	en.node = n
	en.nextDue = time.Now()
	e.log.Info("node_updated", zap.Int64("node_id", n.ID))
	return nil
}

// RemoveNode takes a node out of monitoring. An in-flight probe for it is
// left to finish; its outcome is discarded on arrival.
func (e *Engine) RemoveNode(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.nodes, id)
	e.log.Info("node_removed", zap.Int64("node_id", id))
}

// SetEnabled enables or disables a node without forgetting its runtime
// state. Disabling never blocks on an in-flight probe; the probe's outcome
// is discarded.
func (e *Engine) SetEnabled(id int64, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not monitored", id)
	}
	en.node.Enabled = enabled
	if enabled {
		en.nextDue = time.Now()
	}
	e.log.Info("node_enabled_set", zap.Int64("node_id", id), zap.Bool("enabled", enabled))
	return nil
}

// Snapshots returns the live view of every monitored node. Eventually
// consistent; never blocks on probes.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.nodes))
	for _, en := range e.nodes {
		out = append(out, snapshotOf(en))
	}
	return out
}

// NodeSnapshot returns the live view of one node, or false if it is not
// monitored.
func (e *Engine) NodeSnapshot(id int64) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.nodes[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(en), true
}

func snapshotOf(en *entry) Snapshot {
	return Snapshot{
		NodeID:              en.node.ID,
		Name:                en.node.Name,
		Target:              en.node.Detail.Target(),
		Status:              en.state.Status,
		ConsecutiveFailures: en.state.ConsecutiveFailures,
		Enabled:             en.node.Enabled,
		InFlight:            en.inFlight,
		LastCheck:           en.lastCheck,
		LastLatencyMS:       en.lastLatencyMS,
		NextDue:             en.nextDue,
	}
}

// Run drives scheduling passes until ctx is cancelled. It does an
// immediate pass, then one per tick. Returning marks the engine stopped so
// outcomes of still-running probes are discarded, then waits briefly for
// those probes to wind down.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.tick)
	defer t.Stop()

	e.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.stopped = true
			e.mu.Unlock()
			e.wg.Wait()
			e.log.Info("engine_stopped")
			return
		case <-t.C:
			e.pass(ctx)
		}
	}
}

// pass dispatches a probe for every node that is enabled, not in flight,
// and overdue. Marking in-flight happens here, before the goroutine
// queues on the semaphore, so a slow pass can never double-dispatch.
func (e *Engine) pass(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	for _, en := range e.nodes {
		if !en.node.Enabled || en.inFlight || now.Before(en.nextDue) {
			continue
		}
		en.inFlight = true
		node := en.node // copy for the worker
		e.wg.Add(1)
		go e.runCheck(ctx, node)
	}
	e.mu.Unlock()
}

// runCheck executes one probe for one node: wait for a concurrency slot,
// resolve the credential, probe under the node's timeout, fold the outcome
// back in. The watchdog force-resolves a probe that ignores its deadline.
func (e *Engine) runCheck(ctx context.Context, node domain.Node) {
	defer e.wg.Done()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.clearInFlight(node.ID)
		return
	}
	defer func() { <-e.sem }()

	timeout := node.Detail.Timeout()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outc := make(chan probe.Outcome, 1)
	go func() {
		outc <- e.probeWithCredential(cctx, node)
	}()

	var out probe.Outcome
	select {
	case out = <-outc:
	case <-time.After(timeout + watchdogGrace):
		// cancel() on return tears the straggler down.
		out = probe.Outcome{Success: false, Message: "timeout"}
	}

	// A cancelled engine context means monitoring is stopping; the
	// outcome is discarded rather than applied.
	if ctx.Err() != nil {
		e.clearInFlight(node.ID)
		e.log.Debug("outcome_discarded", zap.Int64("node_id", node.ID))
		return
	}
	e.apply(node.ID, out, time.Now())
}

func (e *Engine) probeWithCredential(ctx context.Context, node domain.Node) probe.Outcome {
	if node.CredentialID == "" {
		return e.checker.Check(ctx, node.Detail, nil)
	}
	if e.creds == nil {
		return probe.Outcome{Success: false, Message: "credential configured but no credential store"}
	}

	var out probe.Outcome
	err := credential.WithSecret(e.creds, node.CredentialID, func(sec *credential.Secret) {
		out = e.checker.Check(ctx, node.Detail, sec)
	})
	if err != nil {
		// An unusable credential reads the same as an unreachable
		// target: a failed outcome, never an engine error.
		return probe.Outcome{Success: false, Message: "credential: " + err.Error()}
	}
	return out
}

// apply folds an outcome into the node's runtime state and forwards it to
// the sink. Outcomes for nodes that were removed or disabled in the
// meantime, or after the engine stopped, are discarded.
func (e *Engine) apply(nodeID int64, out probe.Outcome, now time.Time) {
	e.mu.Lock()
	en, ok := e.nodes[nodeID]
	if !ok || e.stopped {
		e.mu.Unlock()
		e.log.Debug("outcome_discarded", zap.Int64("node_id", nodeID))
		return
	}
	en.inFlight = false
	if !en.node.Enabled {
		e.mu.Unlock()
		e.log.Debug("outcome_discarded", zap.Int64("node_id", nodeID))
		return
	}

	next, change := health.Apply(en.state, out.Success, en.node.MaxCheckAttempts, nodeID, now)
	en.state = next
	en.lastCheck = now
	en.lastLatencyMS = out.LatencyMS

	// Degraded nodes are rechecked at the shorter retry cadence so the
	// hard state is confirmed or refuted quickly.
	interval := en.node.Interval()
	if next.Status == domain.StatusDegraded {
		interval = en.node.RetryInterval()
	}
	en.nextDue = now.Add(interval)
	node := en.node
	e.mu.Unlock()

	e.record(node, next, out, change, now)
}

// record forwards the raw result and any transition to the stores and the
// change hook. Runs on the worker goroutine; a sink failure is logged and
// never stops the scheduler.
func (e *Engine) record(node domain.Node, st health.State, out probe.Outcome, change *domain.StatusChange, now time.Time) {
	ctx := context.Background()

	res := &domain.MonitoringResult{
		NodeID:    node.ID,
		Status:    st.Status,
		Success:   out.Success,
		LatencyMS: out.LatencyMS,
		Details:   out.Message,
		CheckedAt: now,
	}
	if err := e.results.Append(ctx, res); err != nil {
		e.log.Warn("result_append_error", zap.Int64("node_id", node.ID), zap.Error(err))
	}

	if change != nil {
		if err := e.changes.AppendChange(ctx, change); err != nil {
			e.log.Warn("status_change_append_error", zap.Int64("node_id", node.ID), zap.Error(err))
		}
		e.log.Info("status_change",
			zap.Int64("node_id", node.ID),
			zap.String("name", node.Name),
			zap.String("from", string(change.FromStatus)),
			zap.String("to", string(change.ToStatus)),
		)
		if e.onChange != nil {
			e.onChange(node, *change)
		}
	}

	e.log.Debug("node_checked",
		zap.Int64("node_id", node.ID),
		zap.Bool("success", out.Success),
		zap.String("status", string(st.Status)),
		zap.Int("consecutive_failures", st.ConsecutiveFailures),
		zap.String("message", out.Message),
	)
}

func (e *Engine) clearInFlight(nodeID int64) {
	e.mu.Lock()
	if en, ok := e.nodes[nodeID]; ok {
		en.inFlight = false
	}
	e.mu.Unlock()
}
