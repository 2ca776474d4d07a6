package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// TokenEvicter drops tokens from a cached directory.
type TokenEvicter interface {
	Evict(ctx context.Context, tokens []string) error
}

// Reconciler removes permanently invalid tokens from the records that hold
// them. Transient failures are left alone for a future send.
type Reconciler struct {
	store   dispatch.RecordStore
	evicter TokenEvicter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewReconciler(store dispatch.RecordStore, evicter TokenEvicter, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		evicter: evicter,
		metrics: m,
		logger:  logger.With("component", "Reconciler"),
	}
}

// ReconcileResult reports what a reconciliation touched.
type ReconcileResult struct {
	// Removed lists the tokens deleted from at least one record.
	Removed []string
	// Orphaned lists invalid tokens with no known owner; they were skipped.
	Orphaned []string
	// Owners is the number of user records patched.
	Owners int
}

// Reconcile patches only the owners of permanently failed tokens, in one
// atomic store write, then evicts those tokens from the cache.
func (r *Reconciler) Reconcile(ctx context.Context, snap *directory.Snapshot, outcomes []dispatch.Outcome) (ReconcileResult, error) {
	var res ReconcileResult
	removals := make(map[string][]string)
	seen := make(map[string]struct{})

	for _, o := range outcomes {
		if o.Success || !o.Class.Permanent() {
			continue
		}
		if _, dup := seen[o.Token]; dup {
			continue
		}
		seen[o.Token] = struct{}{}

		owners := snap.OwnersOf(o.Token)
		if len(owners) == 0 {
			res.Orphaned = append(res.Orphaned, o.Token)
			continue
		}
		for _, uid := range owners {
			removals[uid] = append(removals[uid], o.Token)
		}
		res.Removed = append(res.Removed, o.Token)
	}

	if len(removals) == 0 {
		return res, nil
	}

	if err := r.store.RemoveTokens(ctx, removals); err != nil {
		return ReconcileResult{Orphaned: res.Orphaned}, fmt.Errorf("reconcile invalid tokens: %w", err)
	}
	res.Owners = len(removals)
	r.metrics.ObserveRemoved(len(res.Removed))
	r.logger.Info("Removed invalid tokens", "tokens", len(res.Removed), "owners", res.Owners, "orphaned", len(res.Orphaned))

	if err := r.evicter.Evict(ctx, res.Removed); err != nil {
		r.logger.Warn("Failed to evict reconciled tokens from cache", "err", err)
	}
	return res, nil
}
