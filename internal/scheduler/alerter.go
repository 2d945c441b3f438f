package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casey/netmon/internal/domain"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	SendTimeout     time.Duration
}

// Alerter turns confirmed status transitions into notifications. Soft
// transitions (into or out of Degraded) are deliberately quiet; only the
// hard states alert. Down alerts respect a per-node cooldown so a node
// flapping at the threshold does not spam the channel.
type Alerter struct {
	log      *zap.Logger
	notifier interface {
		Send(context.Context, string, string) error
	}
	cfg AlerterConfig

	mu       sync.Mutex
	lastSent map[int64]time.Time
}

func NewAlerter(
	log *zap.Logger,
	notifier interface {
		Send(context.Context, string, string) error
	},
	cfg AlerterConfig,
) *Alerter {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Alerter{
		log:      log,
		notifier: notifier,
		cfg:      cfg,
		lastSent: make(map[int64]time.Time),
	}
}

// HandleChange is an Engine ChangeFunc. It runs on a probe worker
// goroutine, so sends are best-effort and bounded by SendTimeout.
func (a *Alerter) HandleChange(node domain.Node, change domain.StatusChange) {
	var title string
	switch {
	case change.ToStatus == domain.StatusOffline:
		if !a.cooled(node.ID) {
			return
		}
		title = "🔴 Node DOWN"
	case change.ToStatus == domain.StatusOnline && change.FromStatus == domain.StatusOffline:
		if !a.cfg.AlertOnRecovery {
			return
		}
		title = "🟢 Node RECOVERED"
	default:
		// Degraded is the soft state; alerting on it would reintroduce
		// the noise the state machine exists to suppress.
		return
	}

	text := fmt.Sprintf("Node: %s\nTarget: %s\nTransition: %s → %s\nAt: %s",
		node.Name, node.Detail.Target(),
		change.FromStatus, change.ToStatus,
		change.ChangedAt.Format(time.RFC3339),
	)
	if change.DurationMS != nil {
		text += fmt.Sprintf("\nTime in prior state: %s",
			(time.Duration(*change.DurationMS) * time.Millisecond).Round(time.Second))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()
	if err := a.notifier.Send(ctx, title, text); err != nil {
		a.log.Warn("alert_send_error", zap.Int64("node_id", node.ID), zap.Error(err))
		return
	}
	a.markSent(node.ID)
}

func (a *Alerter) cooled(nodeID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[nodeID]
	return !ok || time.Since(last) >= a.cfg.Cooldown
}

func (a *Alerter) markSent(nodeID int64) {
	a.mu.Lock()
	a.lastSent[nodeID] = time.Now()
	a.mu.Unlock()
}
