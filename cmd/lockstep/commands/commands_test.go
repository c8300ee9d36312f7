package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/reward"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sessionA = "aaaaaaaa-0000-4000-8000-000000000001"
	sessionB = "bbbbbbbb-0000-4000-8000-000000000002"
)

// setupBlackboard points the CLI at a fresh miniredis through the environment
// and returns a client on the same instance for seeding.
func setupBlackboard(t *testing.T) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)

	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("LOCKSTEP_INSTANCE", "cli-test")

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "cli-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func seedSessions(t *testing.T, client *blackboard.Client) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.SaveSession(ctx, &blackboard.SessionRecord{
		ID:             sessionA,
		GraphID:        "escape",
		GraphVersion:   1,
		Participants:   []string{"p1", "p2"},
		Status:         blackboard.SessionStatusActive,
		LogLength:      1,
		CreatedAtMs:    now.Add(-10 * time.Minute).UnixMilli(),
		LastActivityMs: now.Add(-time.Minute).UnixMilli(),
	}))
	_, err := client.AppendCommand(ctx, sessionA, &blackboard.CommandEntry{
		Position:      1,
		ParticipantID: "p1",
		RawText:       "take the keycard",
		SubmittedAtMs: now.Add(-time.Minute).UnixMilli(),
		Kind:          blackboard.CommandKindApplied,
		Intent:        "take(keycard)",
		Narration:     "Fine. Take it.",
	})
	require.NoError(t, err)

	require.NoError(t, client.SaveSession(ctx, &blackboard.SessionRecord{
		ID:             sessionB,
		GraphID:        "escape",
		GraphVersion:   1,
		Participants:   []string{"p3"},
		Status:         blackboard.SessionStatusSucceeded,
		EndReason:      "escaped",
		CreatedAtMs:    now.Add(-3 * time.Hour).UnixMilli(),
		LastActivityMs: now.Add(-2 * time.Hour).UnixMilli(),
	}))
}

func TestValidate(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		output, err := execute(t, "validate", "../../../content/escape.yml")
		require.NoError(t, err)
		assert.Contains(t, output, "✓ ../../../content/escape.yml")
		assert.Contains(t, output, "escape v1")
	})

	t.Run("graph with problems", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yml")
		require.NoError(t, os.WriteFile(path, []byte("id: broken\nversion: 1\nstart: nowhere\n"), 0644))

		output, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Equal(t, "content validation failed", err.Error())
		assert.Contains(t, output, "✗ "+path)
		assert.Contains(t, output, `Puzzle graph "broken" has`)
		assert.Contains(t, output, "no nodes defined")
	})

	t.Run("missing file", func(t *testing.T) {
		output, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.yml"))
		require.Error(t, err)
		assert.Contains(t, output, "puzzle graph not found")
	})

	t.Run("defaults to the puzzles directory", func(t *testing.T) {
		content, err := filepath.Abs("../../../content")
		require.NoError(t, err)
		t.Chdir(t.TempDir())
		t.Setenv("LOCKSTEP_PUZZLES_DIR", content)

		output, err := execute(t, "validate")
		require.NoError(t, err)
		assert.Contains(t, output, "escape.yml")
		assert.Contains(t, output, "escape v1")
	})

	t.Run("empty puzzles directory", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("LOCKSTEP_PUZZLES_DIR", t.TempDir())

		_, err := execute(t, "validate")
		require.Error(t, err)
		assert.Equal(t, "no puzzle graphs found", err.Error())
	})
}

func TestGraphFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	paths, err := graphFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)
}

func TestBuildSessionCriteria(t *testing.T) {
	t.Cleanup(resetFlags)
	now := time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)

	sessionsStatuses = []string{"Active", " paused"}
	sessionsSince = "2h"
	sessionsGraph = "esc*"
	sessionsActive = true

	c, err := buildSessionCriteria(now)
	require.NoError(t, err)
	assert.Equal(t, []blackboard.SessionStatus{blackboard.SessionStatusActive, blackboard.SessionStatusPaused}, c.Statuses)
	assert.Equal(t, now.Add(-2*time.Hour).UnixMilli(), c.SinceTimestampMs)
	assert.Zero(t, c.UntilTimestampMs)
	assert.Equal(t, "esc*", c.GraphGlob)
	assert.True(t, c.ActiveOnly)

	sessionsStatuses = []string{"running"}
	_, err = buildSessionCriteria(now)
	assert.Error(t, err)

	sessionsStatuses = nil
	sessionsSince, sessionsUntil = "1h", "2h"
	_, err = buildSessionCriteria(now)
	assert.Error(t, err)
}

func TestSessions_List(t *testing.T) {
	client := setupBlackboard(t)
	seedSessions(t, client)

	t.Run("all", func(t *testing.T) {
		output, err := execute(t, "sessions")
		require.NoError(t, err)
		assert.Contains(t, output, "Sessions for instance 'cli-test'")
		assert.Contains(t, output, "aaaaaaaa")
		assert.Contains(t, output, "bbbbbbbb")
		assert.Contains(t, output, "2 sessions found")
	})

	t.Run("active only", func(t *testing.T) {
		output, err := execute(t, "sessions", "--active")
		require.NoError(t, err)
		assert.Contains(t, output, "aaaaaaaa")
		assert.NotContains(t, output, "bbbbbbbb")
	})

	t.Run("since", func(t *testing.T) {
		output, err := execute(t, "sessions", "--since", "1h", "--output", "jsonl")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(output), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], sessionA)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := execute(t, "sessions", "--status", "running")
		require.Error(t, err)
		assert.Equal(t, "invalid filter", err.Error())
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := execute(t, "sessions", "--output", "xml")
		require.Error(t, err)
		assert.Equal(t, "invalid output format", err.Error())
	})
}

func TestSessions_Show(t *testing.T) {
	client := setupBlackboard(t)
	seedSessions(t, client)

	t.Run("by prefix", func(t *testing.T) {
		output, err := execute(t, "sessions", "aaaaaa")
		require.NoError(t, err)
		assert.Contains(t, output, "Session "+sessionA)
		assert.Contains(t, output, "take the keycard")
		assert.Contains(t, output, "Fine. Take it.")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := execute(t, "sessions", "cccccc")
		require.Error(t, err)
		assert.Equal(t, "session not found", err.Error())
	})

	t.Run("prefix too short", func(t *testing.T) {
		_, err := execute(t, "sessions", "aa")
		require.Error(t, err)
	})
}

func TestRewards(t *testing.T) {
	client := setupBlackboard(t)
	seedSessions(t, client)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for _, r := range []*blackboard.RewardRecord{
		{SessionID: sessionB, ParticipantID: "p3", IdempotencyToken: "tok-3", Amount: 10, Status: blackboard.RewardStatusIssued, Attempts: 1, CreatedAtMs: now, UpdatedAtMs: now},
		{SessionID: sessionA, ParticipantID: "p1", IdempotencyToken: "tok-1", Amount: 10, Status: blackboard.RewardStatusFailed, Attempts: 6, LastError: "ledger unavailable", Stuck: true, CreatedAtMs: now, UpdatedAtMs: now},
	} {
		created, err := client.CreateRewardRecord(ctx, r)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.NoError(t, client.RaiseAlert(ctx, &blackboard.Alert{
		Kind:          "reward_stuck",
		SessionID:     sessionA,
		ParticipantID: "p1",
		Message:       "retries exhausted",
		RaisedAtMs:    now,
	}))

	t.Run("all", func(t *testing.T) {
		output, err := execute(t, "rewards")
		require.NoError(t, err)
		assert.Contains(t, output, "2 reward records found, 1 stuck")
		assert.NotContains(t, output, "retries exhausted")
	})

	t.Run("stuck with alerts", func(t *testing.T) {
		output, err := execute(t, "rewards", "--stuck")
		require.NoError(t, err)
		assert.Contains(t, output, "STUCK")
		assert.NotContains(t, output, "p3")
		assert.Contains(t, output, "1 alert:")
		assert.Contains(t, output, "retries exhausted")
	})

	t.Run("by session prefix", func(t *testing.T) {
		output, err := execute(t, "rewards", "--session", "bbbbbb", "--status", "issued")
		require.NoError(t, err)
		assert.Contains(t, output, "p3")
		assert.Contains(t, output, "1 reward record found")
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := execute(t, "rewards", "--status", "lost")
		require.Error(t, err)
		assert.Equal(t, "invalid filter", err.Error())
	})
}

func TestConnectBlackboard_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://"+addr)

	_, err := execute(t, "sessions")
	require.Error(t, err)
	assert.Equal(t, "cannot reach Redis", err.Error())
}

func TestNewTransferer(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &reward.MemoryTransferer{}, newTransferer(cfg))

	cfg.Rewards.TransferURL = "http://ledger.local/transfers"
	assert.IsType(t, &reward.HTTPTransferer{}, newTransferer(cfg))
}

func TestWatch_EndedSession(t *testing.T) {
	client := setupBlackboard(t)
	seedSessions(t, client)

	bus := eventbus.New(client)
	_, err := bus.Publish(context.Background(), sessionB, eventbus.KindSessionEnded, eventbus.SessionEnded{Status: "succeeded", Reason: "escaped"})
	require.NoError(t, err)

	output, err := execute(t, "watch", "bbbbbb")
	require.NoError(t, err)
	assert.Contains(t, output, "Session succeeded: escaped")
}

func TestWatch_BadFormat(t *testing.T) {
	_, err := execute(t, "watch", sessionA, "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	output, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "Successfully initialized Lockstep project")

	_, err = execute(t, "init", dir)
	require.Error(t, err)
	assert.Equal(t, "project already initialized", err.Error())

	_, err = execute(t, "init", dir, "--force")
	require.NoError(t, err)

	output, err = execute(t, "validate", filepath.Join(dir, "content", "escape.yml"))
	require.NoError(t, err)
	assert.Contains(t, output, "escape v1")
}
