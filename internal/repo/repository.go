package repo

import (
	"context"
	"errors"
	"time"

	"github.com/casey/netmon/internal/domain"
)

// ErrNotFound is returned when a node does not exist in the store.
var ErrNotFound = errors.New("not found")

// Ports (interfaces) — the engine only ever sees these; adapters live in
// the memory and sqlite subpackages.

// NodeStore is the node registry the engine consumes.
type NodeStore interface {
	Add(ctx context.Context, n *domain.Node) error // assigns n.ID
	Update(ctx context.Context, n *domain.Node) error
	Get(ctx context.Context, id int64) (*domain.Node, error)
	List(ctx context.Context) ([]*domain.Node, error)
	Delete(ctx context.Context, id int64) error
}

// ResultStore is the raw-result half of the result sink. Append-only.
type ResultStore interface {
	Append(ctx context.Context, r *domain.MonitoringResult) error
	ListByNode(ctx context.Context, nodeID int64, limit int) ([]domain.MonitoringResult, error)
	// UptimePercent is the share of successful checks for the node since
	// the given instant, in [0,100]. Zero checks means zero.
	UptimePercent(ctx context.Context, nodeID int64, since time.Time) (float64, error)
}

// StatusChangeStore is the transition-event half of the result sink.
// Append-only; events are never updated or deleted by the engine.
type StatusChangeStore interface {
	AppendChange(ctx context.Context, c *domain.StatusChange) error
	ListChangesByNode(ctx context.Context, nodeID int64, limit int) ([]domain.StatusChange, error)
	// LatestChange returns nil with no error when the node has no
	// recorded transitions yet.
	LatestChange(ctx context.Context, nodeID int64) (*domain.StatusChange, error)
}
