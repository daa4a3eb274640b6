package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/spokescan/spokescan/pkg/metrics"
	"go.uber.org/zap"
)

// ViewStore owns the derived rewards view.
type ViewStore interface {
	// WithRefreshLock runs fn unless another refresh holds the global lock.
	WithRefreshLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
	RefreshReferralStats(ctx context.Context) (int64, error)
	RefreshView(ctx context.Context) error
}

// StickyResolver recomputes sticky referral attribution for all deposits.
type StickyResolver interface {
	ResolveAll(ctx context.Context) (int64, error)
}

type RefreshResult struct {
	Ran           bool
	StickyUpdated int64
	StatsUpdated  int64
	Took          time.Duration
}

// Maintainer brings the view up to date: sticky referrals, then referral stats, then the view itself.
type Maintainer struct {
	view   ViewStore
	sticky StickyResolver
	logger *zap.Logger
}

func NewMaintainer(view ViewStore, sticky StickyResolver, logger *zap.Logger) *Maintainer {
	return &Maintainer{view: view, sticky: sticky, logger: logger}
}

// Refresh is a no-op returning Ran=false when another process is refreshing.
func (m *Maintainer) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	start := time.Now()
	ran, err := m.view.WithRefreshLock(ctx, func(ctx context.Context) error {
		var err error
		if res.StickyUpdated, err = m.sticky.ResolveAll(ctx); err != nil {
			return fmt.Errorf("resolve sticky referrals: %w", err)
		}
		if res.StatsUpdated, err = m.view.RefreshReferralStats(ctx); err != nil {
			return fmt.Errorf("refresh referral stats: %w", err)
		}
		if err = m.view.RefreshView(ctx); err != nil {
			return fmt.Errorf("refresh rewards view: %w", err)
		}
		return nil
	})
	res.Ran = ran
	res.Took = time.Since(start)
	if err != nil {
		return res, err
	}
	if !ran {
		m.logger.Debug("rewards view refresh already running elsewhere")
		return res, nil
	}
	metrics.ObserveSince(metrics.ViewRefreshDuration, start)
	m.logger.Info("rewards view refreshed",
		zap.Int64("stickyUpdated", res.StickyUpdated),
		zap.Int64("statsUpdated", res.StatsUpdated),
		zap.Duration("took", res.Took))
	return res, nil
}
