// Package fcm sends multicast pushes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// MaxBatchSize is the FCM ceiling for recipients of one multicast call.
const MaxBatchSize = 500

const defaultConcurrency = 4

var errNotSent = errors.New("batch not sent")

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Config bounds the push-service load produced by one dispatch.
type Config struct {
	// MaxConcurrentBatches caps in-flight multicast calls.
	MaxConcurrentBatches int
	// BatchesPerSecond paces batch starts; zero means unlimited.
	BatchesPerSecond float64
}

type Dispatcher struct {
	client      MessagingClient
	concurrency int
	limiter     *rate.Limiter
	classify    func(error) dispatch.FailureClass
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewDispatcher(client MessagingClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	concurrency := cfg.MaxConcurrentBatches
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	return &Dispatcher{
		client:      client,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
		classify:    ClassifyError,
		metrics:     m,
		logger:      logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends a data-only message to every token in batches of at most
// MaxBatchSize. Outcomes are returned in token order regardless of batch
// completion order. A failed multicast call marks its batch as transport
// failures; only context cancellation aborts the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) ([]dispatch.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	payload := dataPayload(content, data)
	outcomes := make([]dispatch.Outcome, len(tokens))
	for i, t := range tokens {
		outcomes[i] = dispatch.Outcome{Token: t, Class: dispatch.ClassTransport, Err: errNotSent}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, batch := range Batches(tokens, MaxBatchSize) {
		slot := outcomes[i*MaxBatchSize : i*MaxBatchSize+len(batch)]
		g.Go(func() error {
			if err := d.limiter.Wait(gctx); err != nil {
				return err
			}
			d.sendBatch(gctx, batch, payload, slot)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, fmt.Errorf("fcm dispatch aborted: %w", err)
	}
	return outcomes, nil
}

// sendBatch fills slot (aligned with batch) with the per-token results.
func (d *Dispatcher) sendBatch(ctx context.Context, batch []string, payload map[string]string, slot []dispatch.Outcome) {
	d.metrics.ObserveBatch()

	br, err := d.client.SendEachForMulticast(ctx, newMulticast(batch, payload))
	if err != nil {
		// The whole call failed (network, auth, malformed payload). Tokens
		// are not at fault, so they are kept for a future attempt.
		d.logger.Error("FCM multicast failed", "batch_size", len(batch), "err", err)
		for i := range slot {
			slot[i].Err = fmt.Errorf("fcm transport failed: %w", err)
		}
		return
	}

	for i := range slot {
		if i >= len(br.Responses) || br.Responses[i] == nil {
			continue
		}
		resp := br.Responses[i]
		if resp.Success {
			slot[i] = dispatch.Outcome{Token: batch[i], Success: true}
			continue
		}
		class := d.classify(resp.Error)
		slot[i] = dispatch.Outcome{Token: batch[i], Class: class, Err: resp.Error}
		if !class.Permanent() {
			d.logger.Warn("FCM transient delivery failure", "class", class, "err", resp.Error)
		}
	}

	d.logger.Debug("FCM batch sent", "batch_size", len(batch), "success", br.SuccessCount, "failure", br.FailureCount)
}

// ClassifyError maps an FCM per-token error onto a FailureClass.
func ClassifyError(err error) dispatch.FailureClass {
	switch {
	case err == nil:
		return dispatch.ClassNone
	case messaging.IsUnregistered(err), messaging.IsRegistrationTokenNotRegistered(err):
		return dispatch.ClassUnregistered
	case messaging.IsInvalidArgument(err):
		return dispatch.ClassInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return dispatch.ClassQuotaExceeded
	case messaging.IsUnavailable(err):
		return dispatch.ClassUnavailable
	case errorutils.IsInternal(err):
		return dispatch.ClassInternal
	default:
		return dispatch.ClassUnknown
	}
}

// Batches splits tokens into consecutive chunks of at most size.
func Batches(tokens []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		batches = append(batches, tokens[start:end])
	}
	return batches
}

// dataPayload builds the data-only map, carrying title and body so the
// client renders the notification itself.
func dataPayload(content notification.NotificationContent, data map[string]string) map[string]string {
	payload := make(map[string]string, len(data)+2)
	maps.Copy(payload, data)
	if _, ok := payload["title"]; !ok && content.Title != "" {
		payload["title"] = content.Title
	}
	if _, ok := payload["body"]; !ok && content.Body != "" {
		payload["body"] = content.Body
	}
	return payload
}

// newMulticast requests high priority on every transport; the platforms
// treat these as hints.
func newMulticast(tokens []string, data map[string]string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"Urgency": "high"},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}
