package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// TokensField is the per-user map of device token -> metadata.
// Presence of a key means the device is registered for push.
const TokensField = "fcmTokens"

// UserStore implements dispatch.RecordStore on a document-per-user
// collection (users/{uid}).
type UserStore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewUserStore(client *firestore.Client, collection string, logger *slog.Logger) *UserStore {
	if collection == "" {
		collection = "users"
	}
	return &UserStore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreUserStore"),
	}
}

// ListTokenRecords reads every user document, projected to the token map only.
func (s *UserStore) ListTokenRecords(ctx context.Context) ([]dispatch.UserRecord, error) {
	iter := s.client.Collection(s.collection).Select(TokensField).Documents(ctx)
	defer iter.Stop()

	var records []dispatch.UserRecord
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: firestore iteration failed: %w", dispatch.ErrRecordStore, err)
		}

		tokens := tokenKeys(doc.Data()[TokensField])
		if len(tokens) == 0 {
			continue
		}
		records = append(records, dispatch.UserRecord{UID: doc.Ref.ID, Tokens: tokens})
	}

	s.logger.Debug("Loaded token records", "users", len(records))
	return records, nil
}

// RemoveTokens patches only the listed users, deleting each token key with
// a merge write. All patches commit in one transaction.
func (s *UserStore) RemoveTokens(ctx context.Context, removals map[string][]string) error {
	if len(removals) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for uid, tokens := range removals {
			if len(tokens) == 0 {
				continue
			}
			patch := make(map[string]interface{}, len(tokens))
			for _, t := range tokens {
				patch[t] = firestore.Delete
			}
			update := map[string]interface{}{TokensField: patch}
			if err := tx.Set(s.userRef(uid), update, firestore.MergeAll); err != nil {
				return fmt.Errorf("patch user %s: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: token removal failed: %w", dispatch.ErrRecordStore, err)
	}
	return nil
}

func (s *UserStore) userRef(uid string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(uid)
}

// tokenKeys extracts the keys of the fcmTokens map. Documents where the
// field is absent or not a map hold no tokens.
func tokenKeys(raw interface{}) []string {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	tokens := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			tokens = append(tokens, k)
		}
	}
	sort.Strings(tokens)
	return tokens
}
