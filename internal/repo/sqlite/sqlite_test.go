package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/repo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "netmon.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_NodeRoundtripPreservesDetailVariant(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := &domain.Node{
		Name: "edge-router",
		Detail: domain.MonitorDetail{
			Kind:       domain.KindSSH,
			Host:       "10.0.0.1",
			Port:       2222,
			TimeoutSec: 5,
		},
		IntervalSec:      30,
		RetryIntervalSec: 10,
		MaxCheckAttempts: 3,
		Enabled:          true,
		CredentialID:     "cred-1",
	}
	if err := s.Add(ctx, n); err != nil {
		t.Fatal(err)
	}
	if n.ID == 0 {
		t.Fatal("Add should assign an ID")
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Detail.Kind != domain.KindSSH || got.Detail.Port != 2222 {
		t.Fatalf("detail variant lost: %+v", got.Detail)
	}
	if got.CredentialID != "cred-1" {
		t.Fatalf("credential ref lost: %q", got.CredentialID)
	}

	got.Enabled = false
	if err := s.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got2, _ := s.Get(ctx, n.ID)
	if got2.Enabled {
		t.Fatal("update not applied")
	}

	if err := s.Delete(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, n.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStore_EmptyCredentialStoredAsNull(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := &domain.Node{
		Name:             "plain",
		Detail:           domain.MonitorDetail{Kind: domain.KindTCP, Host: "h", Port: 80},
		IntervalSec:      60,
		RetryIntervalSec: 15,
		MaxCheckAttempts: 3,
	}
	if err := s.Add(ctx, n); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CredentialID != "" {
		t.Fatalf("want empty credential, got %q", got.CredentialID)
	}
}

func TestStore_ResultsAndUptime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	for i, ok := range []bool{true, false, false, true} {
		lat := 12.5
		r := &domain.MonitoringResult{
			NodeID:    1,
			Status:    domain.StatusOnline,
			Success:   ok,
			CheckedAt: now.Add(time.Duration(i) * time.Second),
		}
		if ok {
			r.LatencyMS = &lat
		} else {
			r.Status = domain.StatusDegraded
			r.Details = "timeout"
		}
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
		if r.ID == 0 {
			t.Fatal("Append should assign an ID")
		}
	}

	rs, err := s.ListByNode(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 4 {
		t.Fatalf("want 4 results, got %d", len(rs))
	}
	if rs[0].LatencyMS == nil || *rs[0].LatencyMS != 12.5 {
		t.Fatalf("latest result latency wrong: %+v", rs[0])
	}
	if rs[1].LatencyMS != nil {
		t.Fatal("failed result should have nil latency")
	}

	pct, err := s.UptimePercent(ctx, 1, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if pct != 50 {
		t.Fatalf("want 50%% uptime, got %v", pct)
	}
}

func TestStore_StatusChangeHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	latest, err := s.LatestChange(ctx, 1)
	if err != nil || latest != nil {
		t.Fatalf("empty history: latest=%v err=%v", latest, err)
	}

	d := int64(45000)
	changes := []domain.StatusChange{
		{NodeID: 1, FromStatus: domain.StatusOnline, ToStatus: domain.StatusDegraded, ChangedAt: now},
		{NodeID: 1, FromStatus: domain.StatusDegraded, ToStatus: domain.StatusOffline, ChangedAt: now.Add(30 * time.Second), DurationMS: &d},
	}
	for i := range changes {
		if err := s.AppendChange(ctx, &changes[i]); err != nil {
			t.Fatal(err)
		}
	}

	cs, err := s.ListChangesByNode(ctx, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 || cs[0].ToStatus != domain.StatusOffline {
		t.Fatalf("unexpected history: %+v", cs)
	}
	if cs[0].DurationMS == nil || *cs[0].DurationMS != 45000 {
		t.Fatalf("duration lost: %+v", cs[0])
	}

	latest, err = s.LatestChange(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ToStatus != domain.StatusOffline {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}
