// Package directory derives the token -> owner view used for fan-out from
// the authoritative user records.
package directory

import (
	"slices"
	"time"

	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

// Snapshot is an immutable token directory built at a point in time.
// Owners maps each device token to the sorted uids of every record that
// holds it; a healthy directory has exactly one uid per token.
//
// Fields are exported so the snapshot can be shared through the Redis
// cache layer. Callers must not mutate a snapshot once built.
type Snapshot struct {
	BuiltAt time.Time           `json:"built_at"`
	Owners  map[string][]string `json:"owners"`
}

// Build derives a snapshot from user records. Empty tokens are ignored and
// a token listed twice under the same user is counted once.
func Build(records []dispatch.UserRecord, builtAt time.Time) *Snapshot {
	owners := make(map[string][]string)
	for _, rec := range records {
		for _, token := range rec.Tokens {
			if token == "" {
				continue
			}
			if !slices.Contains(owners[token], rec.UID) {
				owners[token] = append(owners[token], rec.UID)
			}
		}
	}
	for _, uids := range owners {
		slices.Sort(uids)
	}
	return &Snapshot{BuiltAt: builtAt, Owners: owners}
}

// Len returns the number of distinct tokens.
func (s *Snapshot) Len() int {
	return len(s.Owners)
}

// Age reports how old the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.BuiltAt)
}

// Owner returns the canonical owner of a token: the lowest uid holding it.
func (s *Snapshot) Owner(token string) (string, bool) {
	uids := s.Owners[token]
	if len(uids) == 0 {
		return "", false
	}
	return uids[0], true
}

// OwnersOf returns every uid whose record holds the token.
func (s *Snapshot) OwnersOf(token string) []string {
	return s.Owners[token]
}

// Recipients returns every distinct token not held by senderUID, sorted.
// A token recorded under both the sender and another user is excluded.
func (s *Snapshot) Recipients(senderUID string) []string {
	tokens := make([]string, 0, len(s.Owners))
	for token, uids := range s.Owners {
		if senderUID != "" && slices.Contains(uids, senderUID) {
			continue
		}
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	return tokens
}

// Without returns a copy of the snapshot lacking the given tokens. BuiltAt
// is preserved so the staleness bound of the original still applies.
func (s *Snapshot) Without(tokens []string) *Snapshot {
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	owners := make(map[string][]string, len(s.Owners))
	for token, uids := range s.Owners {
		if _, ok := drop[token]; ok {
			continue
		}
		owners[token] = uids
	}
	return &Snapshot{BuiltAt: s.BuiltAt, Owners: owners}
}
