package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, ids ...string) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for _, id := range ids {
		require.NoError(t, client.SaveSession(context.Background(), &blackboard.SessionRecord{
			ID:           id,
			GraphID:      "escape",
			Participants: []string{"alice"},
			Status:       blackboard.SessionStatusActive,
		}))
	}
	return client
}

const (
	idA = "abc12345-0000-4000-8000-000000000001"
	idB = "abc12399-0000-4000-8000-000000000002"
	idC = "def00000-0000-4000-8000-000000000003"
)

func TestResolveSessionID(t *testing.T) {
	ctx := context.Background()
	client := setupStore(t, idA, idB, idC)

	t.Run("full uuid", func(t *testing.T) {
		got, err := ResolveSessionID(ctx, client, idC)
		require.NoError(t, err)
		assert.Equal(t, idC, got)
	})

	t.Run("full uuid that does not exist", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "99999999-0000-4000-8000-000000000000")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("unique prefix", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abc123")
		require.Error(t, err, "abc123 is shared by two sessions")
		assert.True(t, IsAmbiguousError(err))

		got, err := ResolveSessionID(ctx, client, "abc1234")
		require.NoError(t, err)
		assert.Equal(t, idA, got)
	})

	t.Run("prefix is case insensitive", func(t *testing.T) {
		got, err := ResolveSessionID(ctx, client, "DEF000")
		require.NoError(t, err)
		assert.Equal(t, idC, got)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "ffffff")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("ambiguous lists matches", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abc123")
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.Equal(t, []string{idA, idB}, amb.Matches)
	})
}

func TestFormatAmbiguousError(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = fmt.Sprintf("abcdef%02d-0000-4000-8000-000000000000", i)
	}

	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abcdef", Matches: matches})
	assert.Contains(t, msg, "matches 12 sessions")
	assert.Contains(t, msg, matches[9])
	assert.NotContains(t, msg, matches[10])
	assert.Contains(t, msg, "...and 2 more")
	assert.Contains(t, msg, "longer prefix")
}
