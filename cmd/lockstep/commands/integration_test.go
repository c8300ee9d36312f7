//go:build integration

package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/reward"
	"github.com/dyluth/lockstep/internal/testutil"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests require a running Docker daemon
// Run with: go test -tags=integration -v ./cmd/lockstep/commands

func integrationConfig(t *testing.T, redisURL string) *config.LockstepConfig {
	t.Helper()
	content, err := filepath.Abs("../../../content")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Instance = "integration"
	cfg.RedisURL = redisURL
	cfg.Puzzles.Dir = content
	cfg.Rewards.InitialBackoff = 10 * time.Millisecond
	cfg.Rewards.MaxBackoff = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func say(t *testing.T, eng *engine, sessionID, who, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ack, err := eng.manager.SubmitCommand(ctx, sessionID, who, text, time.Now())
	require.NoError(t, err)
	select {
	case res := <-ack.Result:
		require.NoError(t, res.Err)
		require.Equal(t, blackboard.CommandKindApplied, res.Kind, "%q: %s", text, res.Reason)
	case <-ctx.Done():
		t.Fatalf("no result for %q", text)
	}
}

// TestEscapeSurvivesRestart plays half the escape on one engine, restarts
// against the same Redis, and finishes on the second.
func TestEscapeSurvivesRestart(t *testing.T) {
	cfg := integrationConfig(t, testutil.StartRedis(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := connectBlackboard(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	transfer := reward.NewMemoryTransferer()

	first := newEngine(cfg, client, nil, transfer)
	sessionID, err := first.manager.CreateSession(ctx, []string{"alice", "bob"}, "escape")
	require.NoError(t, err)

	say(t, first, sessionID, "alice", "take the keycard")
	say(t, first, sessionID, "bob", "go to the security door")
	say(t, first, sessionID, "bob", "grab the fuse")
	first.manager.Close()

	rec, err := client.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.SessionStatusActive, rec.Status)
	assert.Equal(t, 3, rec.LogLength)

	second := newEngine(cfg, client, nil, transfer)
	defer second.manager.Close()
	require.NoError(t, second.manager.Recover(ctx))
	go second.issuer.Run(ctx)

	say(t, second, sessionID, "alice", "use the fuse on the panel")
	say(t, second, sessionID, "alice", "go to the lab")
	say(t, second, sessionID, "bob", "take the drive")
	say(t, second, sessionID, "alice", "go outside")

	snap, err := second.manager.Snapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.SessionStatusSucceeded, snap.Status)
	assert.Equal(t, 7, snap.LogLength)

	require.Eventually(t, func() bool {
		return len(transfer.Transfers()) == 2
	}, 10*time.Second, 50*time.Millisecond)

	for _, p := range []string{"alice", "bob"} {
		r, err := client.GetRewardRecord(ctx, sessionID, p)
		require.NoError(t, err)
		assert.Equal(t, blackboard.RewardStatusIssued, r.Status)
		assert.Equal(t, reward.Token(sessionID, p), r.IdempotencyToken)
	}

	events, err := client.ReplayWorldEvents(ctx, sessionID, 0)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq, "event sequence must be gapless across the restart")
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, "session_started", kinds[0])
	assert.Contains(t, kinds, "session_ended")
}
