package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// chatEvent is the wire shape published by the chat backend.
type chatEvent struct {
	RoomID    string `json:"roomId"`
	Text      string `json:"text"`
	User      string `json:"user"`
	SenderUID string `json:"senderUid"`
}

// ChatEventTransformer is a dataflow Transformer that unmarshals and
// validates a raw Pub/Sub payload into a ChatMessage. Invalid events are
// skipped so the subscription's dead-letter policy takes over.
func ChatEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*ChatMessage, bool, error) {
	var ev chatEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal chat event from message %s: %w", msg.ID, err)
	}
	if ev.Text == "" {
		return nil, true, fmt.Errorf("chat event %s: %w", msg.ID, dispatch.ErrValidation)
	}
	if ev.SenderUID == "" {
		return nil, true, fmt.Errorf("chat event %s: missing senderUid", msg.ID)
	}

	return &ChatMessage{
		RoomID:      ev.RoomID,
		Text:        ev.Text,
		DisplayName: ev.User,
		SenderUID:   ev.SenderUID,
	}, false, nil
}
