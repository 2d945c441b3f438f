package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/probe"
)

// --- fakes ---

type fakeSink struct {
	mu      sync.Mutex
	results []domain.MonitoringResult
	changes []domain.StatusChange
}

func (f *fakeSink) Append(ctx context.Context, r *domain.MonitoringResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *r)
	return nil
}

func (f *fakeSink) ListByNode(ctx context.Context, nodeID int64, limit int) ([]domain.MonitoringResult, error) {
	return nil, nil
}

func (f *fakeSink) UptimePercent(ctx context.Context, nodeID int64, since time.Time) (float64, error) {
	return 0, nil
}

func (f *fakeSink) AppendChange(ctx context.Context, c *domain.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, *c)
	return nil
}

func (f *fakeSink) ListChangesByNode(ctx context.Context, nodeID int64, limit int) ([]domain.StatusChange, error) {
	return nil, nil
}

func (f *fakeSink) LatestChange(ctx context.Context, nodeID int64) (*domain.StatusChange, error) {
	return nil, nil
}

func (f *fakeSink) snapshot() ([]domain.MonitoringResult, []domain.StatusChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MonitoringResult(nil), f.results...),
		append([]domain.StatusChange(nil), f.changes...)
}

// scriptChecker replays a fixed outcome sequence, then repeats the last.
type scriptChecker struct {
	mu       sync.Mutex
	outcomes []probe.Outcome
	i        int
	calls    int
}

func (s *scriptChecker) Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) probe.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.outcomes[s.i]
	if s.i < len(s.outcomes)-1 {
		s.i++
	}
	return out
}

// blockChecker parks every check until released, tracking peak concurrency.
type blockChecker struct {
	release chan struct{}
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
}

func newBlockChecker() *blockChecker {
	return &blockChecker{release: make(chan struct{})}
}

func (b *blockChecker) Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) probe.Outcome {
	b.mu.Lock()
	b.calls++
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-ctx.Done():
	}

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return probe.Outcome{Success: true, Message: "released"}
}

func (b *blockChecker) stats() (calls, peak int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.peak
}

// --- helpers ---

func testNode(id int64) domain.Node {
	return domain.Node{
		ID:   id,
		Name: "node",
		Detail: domain.MonitorDetail{
			Kind:           domain.KindHTTP,
			URL:            "https://example.com",
			ExpectedStatus: 200,
			TimeoutSec:     1,
		},
		IntervalSec:      60,
		RetryIntervalSec: 15,
		MaxCheckAttempts: 3,
		Enabled:          true,
	}
}

func makeDue(e *Engine, id int64) {
	e.mu.Lock()
	if en, ok := e.nodes[id]; ok {
		en.nextDue = time.Now().Add(-time.Millisecond)
	}
	e.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func outcomeOK() probe.Outcome {
	ms := 1.5
	return probe.Outcome{Success: true, LatencyMS: &ms, Message: "responded with status 200"}
}

func outcomeFail() probe.Outcome {
	return probe.Outcome{Success: false, Message: "expected status 200 but got 500"}
}

// --- tests ---

func TestEngine_EndToEndStateSequence(t *testing.T) {
	// Probe sequence ok,fail,fail,fail,ok must walk
	// Online, Degraded(1), Degraded(2), Offline, Online with exactly
	// three transitions recorded.
	sink := &fakeSink{}
	chk := &scriptChecker{outcomes: []probe.Outcome{
		outcomeOK(), outcomeFail(), outcomeFail(), outcomeFail(), outcomeOK(),
	}}
	e := New(Config{Checker: chk, Results: sink, Changes: sink})
	if err := e.AddNode(testNode(1)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for step := 0; step < 5; step++ {
		makeDue(e, 1)
		e.pass(ctx)
		want := step + 1
		waitFor(t, func() bool {
			rs, _ := sink.snapshot()
			return len(rs) == want
		})
	}

	rs, cs := sink.snapshot()
	wantStatuses := []domain.NodeStatus{
		domain.StatusOnline, domain.StatusDegraded, domain.StatusDegraded,
		domain.StatusOffline, domain.StatusOnline,
	}
	for i, want := range wantStatuses {
		if rs[i].Status != want {
			t.Fatalf("result %d: want %s, got %s", i, want, rs[i].Status)
		}
	}

	if len(cs) != 3 {
		t.Fatalf("want 3 status changes, got %d: %+v", len(cs), cs)
	}
	wantChanges := []struct{ from, to domain.NodeStatus }{
		{domain.StatusOnline, domain.StatusDegraded},
		{domain.StatusDegraded, domain.StatusOffline},
		{domain.StatusOffline, domain.StatusOnline},
	}
	for i, w := range wantChanges {
		if cs[i].FromStatus != w.from || cs[i].ToStatus != w.to {
			t.Fatalf("change %d: want %s->%s, got %s->%s",
				i, w.from, w.to, cs[i].FromStatus, cs[i].ToStatus)
		}
	}

	snap, ok := e.NodeSnapshot(1)
	if !ok || snap.Status != domain.StatusOnline || snap.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
}

func TestEngine_AtMostOneInFlightPerNode(t *testing.T) {
	sink := &fakeSink{}
	chk := newBlockChecker()
	e := New(Config{Checker: chk, Results: sink, Changes: sink})
	if err := e.AddNode(testNode(1)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	e.pass(ctx)
	waitFor(t, func() bool { c, _ := chk.stats(); return c == 1 })

	// The node is overdue again, but its first probe is still running.
	makeDue(e, 1)
	e.pass(ctx)
	e.pass(ctx)
	time.Sleep(50 * time.Millisecond)

	if calls, _ := chk.stats(); calls != 1 {
		t.Fatalf("second probe dispatched while first in flight: %d calls", calls)
	}

	close(chk.release)
	waitFor(t, func() bool {
		rs, _ := sink.snapshot()
		return len(rs) == 1
	})
}

func TestEngine_GlobalConcurrencyCeiling(t *testing.T) {
	const nodes = 8
	const ceiling = 3

	sink := &fakeSink{}
	chk := newBlockChecker()
	e := New(Config{Checker: chk, Results: sink, Changes: sink, MaxConcurrent: ceiling})
	for i := int64(1); i <= nodes; i++ {
		n := testNode(i)
		if err := e.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}

	e.pass(context.Background())
	waitFor(t, func() bool { _, p := chk.stats(); return p == ceiling })
	time.Sleep(50 * time.Millisecond)

	if _, peak := chk.stats(); peak > ceiling {
		t.Fatalf("concurrency ceiling breached: peak %d > %d", peak, ceiling)
	}

	// As slots free up the rest must run.
	close(chk.release)
	waitFor(t, func() bool { c, _ := chk.stats(); return c == nodes })
	waitFor(t, func() bool {
		rs, _ := sink.snapshot()
		return len(rs) == nodes
	})
	if _, peak := chk.stats(); peak > ceiling {
		t.Fatalf("concurrency ceiling breached after release: peak %d", peak)
	}
}

// hangChecker ignores its context entirely.
type hangChecker struct{}

func (hangChecker) Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) probe.Outcome {
	time.Sleep(10 * time.Second)
	return probe.Outcome{Success: true}
}

func TestEngine_WatchdogForcesTimeoutVerdict(t *testing.T) {
	sink := &fakeSink{}
	e := New(Config{Checker: hangChecker{}, Results: sink, Changes: sink})

	n := testNode(1)
	n.Detail.TimeoutSec = 1
	if err := e.AddNode(n); err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	e.pass(context.Background())
	waitFor(t, func() bool {
		rs, _ := sink.snapshot()
		return len(rs) == 1
	})

	rs, _ := sink.snapshot()
	if rs[0].Success {
		t.Fatalf("want forced timeout failure, got %+v", rs[0])
	}
	if rs[0].Details != "timeout" {
		t.Fatalf("want timeout diagnostic, got %q", rs[0].Details)
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Fatalf("verdict took too long: %v", elapsed)
	}

	// The node must not be stuck: it is due again, not in flight.
	snap, _ := e.NodeSnapshot(1)
	if snap.InFlight {
		t.Fatal("node left in flight after forced timeout")
	}
}

func TestEngine_DisableDiscardsInFlightOutcome(t *testing.T) {
	sink := &fakeSink{}
	chk := newBlockChecker()
	e := New(Config{Checker: chk, Results: sink, Changes: sink})
	if err := e.AddNode(testNode(1)); err != nil {
		t.Fatal(err)
	}

	e.pass(context.Background())
	waitFor(t, func() bool { c, _ := chk.stats(); return c == 1 })

	if err := e.SetEnabled(1, false); err != nil {
		t.Fatal(err)
	}
	close(chk.release)
	time.Sleep(100 * time.Millisecond)

	if rs, _ := sink.snapshot(); len(rs) != 0 {
		t.Fatalf("outcome for disabled node must be discarded, got %+v", rs)
	}
	snap, _ := e.NodeSnapshot(1)
	if snap.InFlight {
		t.Fatal("in-flight flag not cleared")
	}
}

func TestEngine_RemoveDiscardsInFlightOutcome(t *testing.T) {
	sink := &fakeSink{}
	chk := newBlockChecker()
	e := New(Config{Checker: chk, Results: sink, Changes: sink})
	if err := e.AddNode(testNode(1)); err != nil {
		t.Fatal(err)
	}

	e.pass(context.Background())
	waitFor(t, func() bool { c, _ := chk.stats(); return c == 1 })

	e.RemoveNode(1)
	close(chk.release)
	time.Sleep(100 * time.Millisecond)

	if rs, _ := sink.snapshot(); len(rs) != 0 {
		t.Fatalf("outcome for removed node must be discarded, got %+v", rs)
	}
	if _, ok := e.NodeSnapshot(1); ok {
		t.Fatal("removed node still visible")
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(id string) (*credential.Secret, error) {
	return nil, errors.New("store sealed with a different key")
}

func TestEngine_CredentialFailureIsAProbeFailure(t *testing.T) {
	sink := &fakeSink{}
	chk := &scriptChecker{outcomes: []probe.Outcome{outcomeOK()}}
	e := New(Config{Checker: chk, Results: sink, Changes: sink, Credentials: failingResolver{}})

	n := testNode(1)
	n.Detail = domain.MonitorDetail{Kind: domain.KindSSH, Host: "10.0.0.1", Port: 22, TimeoutSec: 1}
	n.CredentialID = "cred-1"
	if err := e.AddNode(n); err != nil {
		t.Fatal(err)
	}

	e.pass(context.Background())
	waitFor(t, func() bool {
		rs, _ := sink.snapshot()
		return len(rs) == 1
	})

	rs, _ := sink.snapshot()
	if rs[0].Success {
		t.Fatal("unresolvable credential must fail the check")
	}
	if rs[0].Details == "" || rs[0].Status != domain.StatusDegraded {
		t.Fatalf("want degraded with diagnostic, got %+v", rs[0])
	}
	// The probe itself must not have run without its credential.
	chk.mu.Lock()
	calls := chk.calls
	chk.mu.Unlock()
	if calls != 0 {
		t.Fatal("probe ran despite credential resolution failure")
	}
}

func TestEngine_RejectsInvalidNodeAtRegistration(t *testing.T) {
	e := New(Config{Checker: &scriptChecker{outcomes: []probe.Outcome{outcomeOK()}}, Results: &fakeSink{}, Changes: &fakeSink{}})

	n := testNode(1)
	n.IntervalSec = 0
	if err := e.AddNode(n); err == nil {
		t.Fatal("zero interval must be rejected")
	}

	n = testNode(2)
	n.Detail.URL = ""
	if err := e.AddNode(n); err == nil {
		t.Fatal("malformed target must be rejected")
	}

	if got := len(e.Snapshots()); got != 0 {
		t.Fatalf("rejected nodes must not be scheduled, got %d", got)
	}
}

func TestEngine_DegradedUsesRetryInterval(t *testing.T) {
	sink := &fakeSink{}
	chk := &scriptChecker{outcomes: []probe.Outcome{outcomeFail()}}
	e := New(Config{Checker: chk, Results: sink, Changes: sink})

	n := testNode(1)
	n.IntervalSec = 600
	n.RetryIntervalSec = 15
	if err := e.AddNode(n); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	e.pass(context.Background())
	waitFor(t, func() bool {
		rs, _ := sink.snapshot()
		return len(rs) == 1
	})

	snap, _ := e.NodeSnapshot(1)
	if snap.Status != domain.StatusDegraded {
		t.Fatalf("want Degraded, got %s", snap.Status)
	}
	wait := snap.NextDue.Sub(before)
	if wait > 20*time.Second {
		t.Fatalf("degraded node should use retry interval, next due in %v", wait)
	}
}

func TestEngine_RunStopsAndDiscardsLateOutcomes(t *testing.T) {
	sink := &fakeSink{}
	chk := newBlockChecker()
	e := New(Config{Checker: chk, Results: sink, Changes: sink, Tick: 10 * time.Millisecond})
	if err := e.AddNode(testNode(1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { c, _ := chk.stats(); return c == 1 })
	cancel()
	close(chk.release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}

	if rs, _ := sink.snapshot(); len(rs) != 0 {
		t.Fatalf("post-stop outcome must be discarded, got %+v", rs)
	}
}
