package directory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-chatpush-service/internal/directory"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

func TestBuild(t *testing.T) {
	builtAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Maps tokens to owners", func(t *testing.T) {
		snap := directory.Build([]dispatch.UserRecord{
			{UID: "U1", Tokens: []string{"t1"}},
			{UID: "U2", Tokens: []string{"t2", "t2", ""}},
			{UID: "U3", Tokens: []string{"t3"}},
			{UID: "U4"},
		}, builtAt)

		assert.Equal(t, 3, snap.Len())
		assert.Equal(t, builtAt, snap.BuiltAt)

		owner, ok := snap.Owner("t2")
		require.True(t, ok)
		assert.Equal(t, "U2", owner)
		assert.Equal(t, []string{"U2"}, snap.OwnersOf("t2"))

		_, ok = snap.Owner("missing")
		assert.False(t, ok)
	})

	t.Run("Token under two owners has one canonical owner", func(t *testing.T) {
		snap := directory.Build([]dispatch.UserRecord{
			{UID: "U9", Tokens: []string{"shared"}},
			{UID: "U2", Tokens: []string{"shared"}},
		}, builtAt)

		owner, ok := snap.Owner("shared")
		require.True(t, ok)
		assert.Equal(t, "U2", owner)
		assert.Equal(t, []string{"U2", "U9"}, snap.OwnersOf("shared"))
	})
}

func TestRecipients(t *testing.T) {
	snap := directory.Build([]dispatch.UserRecord{
		{UID: "U1", Tokens: []string{"t1", "t1b"}},
		{UID: "U2", Tokens: []string{"t2", "dup"}},
		{UID: "U3", Tokens: []string{"t3", "dup"}},
	}, time.Now())

	t.Run("Excludes sender tokens", func(t *testing.T) {
		assert.Equal(t, []string{"dup", "t2", "t3"}, snap.Recipients("U1"))
	})

	t.Run("Deduplicates tokens shared by two owners", func(t *testing.T) {
		got := snap.Recipients("U9")
		assert.Equal(t, []string{"dup", "t1", "t1b", "t2", "t3"}, got)
	})

	t.Run("Shared token is excluded when the sender holds it", func(t *testing.T) {
		assert.Equal(t, []string{"t1", "t1b", "t3"}, snap.Recipients("U2"))
	})

	t.Run("Sender tokens never intersect recipients", func(t *testing.T) {
		for _, uid := range []string{"U1", "U2", "U3"} {
			for _, token := range snap.Recipients(uid) {
				assert.NotContains(t, snap.OwnersOf(token), uid)
			}
		}
	})
}

func TestWithout(t *testing.T) {
	builtAt := time.Now().Add(-10 * time.Second)
	snap := directory.Build([]dispatch.UserRecord{
		{UID: "U1", Tokens: []string{"t1"}},
		{UID: "U2", Tokens: []string{"t2"}},
	}, builtAt)

	pruned := snap.Without([]string{"t2", "unknown"})

	assert.Equal(t, 1, pruned.Len())
	assert.Equal(t, builtAt, pruned.BuiltAt)
	assert.Equal(t, 2, snap.Len(), "original snapshot must be untouched")
}
