// Package dispatch holds the contracts shared between the push fan-out
// components: the multicast sender, the user-record store and the
// per-token delivery outcome.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Sender defines the contract for a multicast push platform (e.g. FCM).
type Sender interface {
	// Dispatch sends one shared payload to every token and reports a
	// per-token outcome. An empty token slice yields no outcomes.
	Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) ([]Outcome, error)
}

// UserRecord is the token view of a single user document.
type UserRecord struct {
	UID    string
	Tokens []string
}

// RecordStore is the authoritative store of user records.
type RecordStore interface {
	// ListTokenRecords reads every user record that may hold device tokens.
	ListTokenRecords(ctx context.Context) ([]UserRecord, error)

	// RemoveTokens deletes the given tokens from their owning records in a
	// single atomic write. Removing an absent token is a no-op.
	RemoveTokens(ctx context.Context, removals map[string][]string) error
}
