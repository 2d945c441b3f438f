package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casey/netmon/internal/domain"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeNotifier) Send(ctx context.Context, title, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, title)
	return nil
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func change(from, to domain.NodeStatus) domain.StatusChange {
	return domain.StatusChange{NodeID: 1, FromStatus: from, ToStatus: to, ChangedAt: time.Now()}
}

func alertNode() domain.Node {
	n := testNode(1)
	return n
}

func TestAlerter_DownAndRecovery(t *testing.T) {
	fn := &fakeNotifier{}
	a := NewAlerter(zap.NewNop(), fn, AlerterConfig{AlertOnRecovery: true, Cooldown: time.Hour})

	a.HandleChange(alertNode(), change(domain.StatusDegraded, domain.StatusOffline))
	a.HandleChange(alertNode(), change(domain.StatusOffline, domain.StatusOnline))

	got := fn.titles()
	if len(got) != 2 {
		t.Fatalf("want 2 alerts, got %v", got)
	}
}

func TestAlerter_SoftTransitionsAreQuiet(t *testing.T) {
	fn := &fakeNotifier{}
	a := NewAlerter(zap.NewNop(), fn, AlerterConfig{AlertOnRecovery: true})

	a.HandleChange(alertNode(), change(domain.StatusOnline, domain.StatusDegraded))
	a.HandleChange(alertNode(), change(domain.StatusDegraded, domain.StatusOnline))

	if got := fn.titles(); len(got) != 0 {
		t.Fatalf("soft transitions must not alert, got %v", got)
	}
}

func TestAlerter_DownCooldownSuppressesRepeats(t *testing.T) {
	fn := &fakeNotifier{}
	a := NewAlerter(zap.NewNop(), fn, AlerterConfig{Cooldown: time.Hour})

	a.HandleChange(alertNode(), change(domain.StatusDegraded, domain.StatusOffline))
	a.HandleChange(alertNode(), change(domain.StatusDegraded, domain.StatusOffline))

	if got := fn.titles(); len(got) != 1 {
		t.Fatalf("want 1 alert within cooldown, got %v", got)
	}
}

func TestAlerter_RecoveryDisabled(t *testing.T) {
	fn := &fakeNotifier{}
	a := NewAlerter(zap.NewNop(), fn, AlerterConfig{AlertOnRecovery: false})

	a.HandleChange(alertNode(), change(domain.StatusOffline, domain.StatusOnline))
	if got := fn.titles(); len(got) != 0 {
		t.Fatalf("recovery alerts disabled, got %v", got)
	}
}
