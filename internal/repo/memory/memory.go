// Package memory is the in-memory store adapter, used when no database
// path is configured and as the fake-free backend in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/casey/netmon/internal/domain"
	"github.com/casey/netmon/internal/repo"
)

type Store struct {
	mu      sync.RWMutex
	nextID  int64
	nodes   map[int64]*domain.Node
	results []domain.MonitoringResult
	changes []domain.StatusChange
}

var (
	_ repo.NodeStore         = (*Store)(nil)
	_ repo.ResultStore       = (*Store)(nil)
	_ repo.StatusChangeStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		nextID: 1,
		nodes:  make(map[int64]*domain.Node),
	}
}

// ---- NodeStore ----

func (s *Store) Add(ctx context.Context, n *domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID
	s.nextID++
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *Store) Update(ctx context.Context, n *domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; !ok {
		return fmt.Errorf("update node %d: %w", n.ID, repo.ErrNotFound)
	}
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("get node %d: %w", id, repo.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return fmt.Errorf("delete node %d: %w", id, repo.ErrNotFound)
	}
	delete(s.nodes, id)
	return nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, r *domain.MonitoringResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.results) + 1)
	s.results = append(s.results, *r)
	return nil
}

func (s *Store) ListByNode(ctx context.Context, nodeID int64, limit int) ([]domain.MonitoringResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MonitoringResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].NodeID != nodeID {
			continue
		}
		out = append(out, s.results[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UptimePercent(ctx context.Context, nodeID int64, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total, up int
	for _, r := range s.results {
		if r.NodeID != nodeID || r.CheckedAt.Before(since) {
			continue
		}
		total++
		if r.Success {
			up++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(up) / float64(total) * 100, nil
}

// ---- StatusChangeStore ----

func (s *Store) AppendChange(ctx context.Context, c *domain.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = int64(len(s.changes) + 1)
	s.changes = append(s.changes, *c)
	return nil
}

func (s *Store) ListChangesByNode(ctx context.Context, nodeID int64, limit int) ([]domain.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StatusChange
	for i := len(s.changes) - 1; i >= 0; i-- {
		if s.changes[i].NodeID != nodeID {
			continue
		}
		out = append(out, s.changes[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LatestChange(ctx context.Context, nodeID int64) (*domain.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.changes) - 1; i >= 0; i-- {
		if s.changes[i].NodeID == nodeID {
			cp := s.changes[i]
			return &cp, nil
		}
	}
	return nil, nil
}
