package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// DirectoryResolver yields the current token directory.
type DirectoryResolver interface {
	Resolve(ctx context.Context) (*directory.Snapshot, error)
}

// Result summarizes one fan-out.
type Result struct {
	// Targeted is the number of distinct tokens addressed.
	Targeted int
	// Sent is the number of tokens the push service accepted.
	Sent    int
	Failed  int
	Removed int
}

// FanOut announces a chat message on every device except the sender's.
type FanOut struct {
	resolver   DirectoryResolver
	sender     dispatch.Sender
	reconciler *Reconciler
	cfg        NotificationConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewFanOut(
	resolver DirectoryResolver,
	sender dispatch.Sender,
	reconciler *Reconciler,
	cfg NotificationConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *FanOut {
	return &FanOut{
		resolver:   resolver,
		sender:     sender,
		reconciler: reconciler,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "FanOut"),
	}
}

// Send resolves recipients, dispatches and reconciles invalid tokens.
//
// A directory failure aborts before anything is sent. Reconciliation
// failures are logged only: the notifications are already out and the
// delivery count is still reported.
func (f *FanOut) Send(ctx context.Context, msg ChatMessage) (Result, error) {
	log := f.logger.With("sender_uid", msg.SenderUID, "room_id", msg.RoomID)

	snap, err := f.resolver.Resolve(ctx)
	if err != nil {
		return Result{}, err
	}

	tokens := snap.Recipients(msg.SenderUID)
	if len(tokens) == 0 {
		log.Info("No recipient devices registered; nothing to send.")
		return Result{}, nil
	}

	payload := BuildPayload(msg, f.cfg)
	outcomes, dispatchErr := f.sender.Dispatch(ctx, tokens, payload.Content, payload.Data)

	summary := dispatch.Summarize(outcomes)
	for _, o := range outcomes {
		if o.Success {
			f.metrics.ObserveDelivery("ok")
		} else {
			f.metrics.ObserveDelivery(string(o.Class))
		}
	}
	res := Result{Targeted: len(tokens), Sent: summary.Sent, Failed: summary.Failed}

	if len(summary.Permanent) > 0 {
		rr, err := f.reconciler.Reconcile(ctx, snap, outcomes)
		if err != nil {
			log.Error("Invalid token cleanup failed", "err", err)
		}
		res.Removed = len(rr.Removed)
	}

	log.Info("Chat push dispatched", "targeted", res.Targeted, "sent", res.Sent, "failed", res.Failed, "removed", res.Removed)

	if dispatchErr != nil {
		return res, fmt.Errorf("dispatch chat push: %w", dispatchErr)
	}
	return res, nil
}
