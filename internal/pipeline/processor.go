package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// NewProcessor runs the fan-out for chat events arriving over Pub/Sub.
//
// Errors before anything was sent are returned so the message is
// redelivered. Once a notification went out the event is acknowledged even
// on a later failure, since a redelivery would notify those devices twice.
func NewProcessor(fanOut *FanOut, logger *slog.Logger) messagepipeline.StreamProcessor[ChatMessage] {
	return func(ctx context.Context, original messagepipeline.Message, msg *ChatMessage) error {
		procLogger := logger.With(
			"sender_uid", msg.SenderUID,
			"pubsub_msg_id", original.ID,
		)

		res, err := fanOut.Send(ctx, *msg)
		if err != nil {
			if res.Sent == 0 {
				procLogger.Error("Chat event fan-out failed", "err", err)
				return err // Retryable
			}
			procLogger.Warn("Chat event partially dispatched", "sent", res.Sent, "err", err)
		}
		return nil
	}
}
