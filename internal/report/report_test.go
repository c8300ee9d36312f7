package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lockstep/internal/filter"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/pkg/blackboard"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)

const (
	sessionA = "aaaaaaaa-0000-4000-8000-000000000001"
	sessionB = "bbbbbbbb-0000-4000-8000-000000000002"
)

func setupClient(t *testing.T) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func seedSessions(t *testing.T, client *blackboard.Client) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, client.SaveSession(ctx, &blackboard.SessionRecord{
		ID:             sessionA,
		GraphID:        "escape",
		GraphVersion:   1,
		Participants:   []string{"alice", "bob"},
		Status:         blackboard.SessionStatusSucceeded,
		EndReason:      "success predicate met",
		LogLength:      2,
		CreatedAtMs:    now.Add(-2 * time.Hour).UnixMilli(),
		LastActivityMs: now.Add(-90 * time.Minute).UnixMilli(),
	}))
	require.NoError(t, client.SaveSession(ctx, &blackboard.SessionRecord{
		ID:             sessionB,
		GraphID:        "escape",
		GraphVersion:   1,
		Participants:   []string{"carol"},
		Status:         blackboard.SessionStatusActive,
		CreatedAtMs:    now.Add(-5 * time.Minute).UnixMilli(),
		LastActivityMs: now.Add(-30 * time.Second).UnixMilli(),
	}))

	for _, e := range []*blackboard.CommandEntry{
		{Position: 1, ParticipantID: "alice", RawText: "take the keycard", Kind: blackboard.CommandKindApplied, Intent: "take(keycard)", Narration: "Anna pockets the keycard."},
		{Position: 2, ParticipantID: "bob", RawText: "dance", Kind: blackboard.CommandKindUnrecognized, Reason: "Anna doesn't know how to \"dance\"."},
	} {
		_, err := client.AppendCommand(ctx, sessionA, e)
		require.NoError(t, err)
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("empty blackboard", func(t *testing.T) {
		client := setupClient(t)
		var buf bytes.Buffer
		require.NoError(t, ListSessions(ctx, client, "test-instance", OutputFormatTable, nil, now, &buf))
		assert.Contains(t, buf.String(), "No sessions found for instance 'test-instance'")
	})

	t.Run("table", func(t *testing.T) {
		client := setupClient(t)
		seedSessions(t, client)

		var buf bytes.Buffer
		require.NoError(t, ListSessions(ctx, client, "test-instance", OutputFormatTable, nil, now, &buf))
		out := buf.String()
		assert.Contains(t, out, "Sessions for instance 'test-instance'")
		assert.Contains(t, out, "aaaaaaaa")
		assert.NotContains(t, out, sessionA, "IDs are shortened")
		assert.Contains(t, out, "succeeded")
		assert.Contains(t, out, "2h ago")
		assert.Contains(t, out, "alice, bob")
		assert.Contains(t, out, "2 sessions found")
		assert.Less(t, strings.Index(out, "aaaaaaaa"), strings.Index(out, "bbbbbbbb"), "oldest first")
	})

	t.Run("filtered jsonl", func(t *testing.T) {
		client := setupClient(t)
		seedSessions(t, client)

		var buf bytes.Buffer
		criteria := &filter.SessionCriteria{ActiveOnly: true}
		require.NoError(t, ListSessions(ctx, client, "test-instance", OutputFormatJSONL, criteria, now, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		var rec blackboard.SessionRecord
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
		assert.Equal(t, sessionB, rec.ID)
	})

	t.Run("unknown format", func(t *testing.T) {
		client := setupClient(t)
		err := ListSessions(ctx, client, "test-instance", OutputFormat("xml"), nil, now, &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestShowSession(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	seedSessions(t, client)

	t.Run("transcript", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ShowSession(ctx, client, sessionA, OutputFormatTable, &buf))
		out := buf.String()
		assert.Contains(t, out, "Session "+sessionA)
		assert.Contains(t, out, "escape v1")
		assert.Contains(t, out, "success predicate met")
		assert.Contains(t, out, "#1   alice: take the keycard")
		assert.Contains(t, out, "[applied take(keycard)]")
		assert.Contains(t, out, "Anna: Anna pockets the keycard.")
		assert.Contains(t, out, "[unrecognized]")
		assert.Contains(t, out, "2 commands")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ShowSession(ctx, client, sessionA, OutputFormatJSONL, &buf))
		var detail SessionDetail
		require.NoError(t, json.Unmarshal(buf.Bytes(), &detail))
		assert.Equal(t, sessionA, detail.Session.ID)
		assert.Len(t, detail.Log, 2)
	})

	t.Run("not found", func(t *testing.T) {
		err := ShowSession(ctx, client, "cccccccc-0000-4000-8000-000000000003", OutputFormatTable, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestListRewards(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	for _, r := range []*blackboard.RewardRecord{
		{SessionID: sessionA, ParticipantID: "alice", IdempotencyToken: "t1", Amount: 10, Status: blackboard.RewardStatusIssued, Attempts: 1},
		{SessionID: sessionA, ParticipantID: "bob", IdempotencyToken: "t2", Amount: 10, Status: blackboard.RewardStatusFailed, Attempts: 6, Stuck: true, LastError: "ledger unavailable"},
	} {
		created, err := client.CreateRewardRecord(ctx, r)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.NoError(t, client.RaiseAlert(ctx, &blackboard.Alert{
		Kind:          "reward_stuck",
		SessionID:     sessionA,
		ParticipantID: "bob",
		Message:       "reward issuance stuck after 6 attempts",
		RaisedAtMs:    now.Add(-time.Minute).UnixMilli(),
	}))

	t.Run("all", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRewards(ctx, client, OutputFormatTable, nil, now, &buf))
		out := buf.String()
		assert.Contains(t, out, "alice")
		assert.Contains(t, out, "issued")
		assert.Contains(t, out, "STUCK")
		assert.Contains(t, out, "ledger unavailable")
		assert.Contains(t, out, "1 stuck")
		assert.NotContains(t, out, "alert", "alerts only with --stuck")
	})

	t.Run("stuck only", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRewards(ctx, client, OutputFormatTable, &filter.RewardCriteria{StuckOnly: true}, now, &buf))
		out := buf.String()
		assert.NotContains(t, out, "alice")
		assert.Contains(t, out, "bob")
		assert.Contains(t, out, "1 alert:")
		assert.Contains(t, out, "reward_stuck")
		assert.Contains(t, out, "stuck after 6 attempts")
	})

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListRewards(ctx, client, OutputFormatJSONL, nil, now, &buf))
		assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 2)
	})
}

func TestFormatContentError(t *testing.T) {
	var buf bytes.Buffer
	ok := FormatContentError(&buf, &puzzle.ContentError{GraphID: "escape", Problems: []string{"start node missing", "exit \"lab\" unknown"}})
	require.True(t, ok)
	assert.Contains(t, buf.String(), `Puzzle graph "escape" has 2 problems:`)
	assert.Contains(t, buf.String(), "  1. start node missing")

	assert.False(t, FormatContentError(&bytes.Buffer{}, assert.AnError))
}

func TestFormatGraphSummary(t *testing.T) {
	g, err := puzzle.LoadGraph("../../content/escape.yml")
	require.NoError(t, err)

	var buf bytes.Buffer
	FormatGraphSummary(&buf, g)
	assert.Contains(t, buf.String(), "escape v1: Anna's Escape")
	assert.Contains(t, buf.String(), "start at entrance")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "-", truncate("", 10))
	assert.Equal(t, "-", truncate("\n  \n", 10))
	assert.Equal(t, "first", truncate("\nfirst\nsecond", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))

	assert.Equal(t, "-", age(0, now))
	assert.Equal(t, "30s ago", age(now.Add(-30*time.Second).UnixMilli(), now))
	assert.Equal(t, "5m ago", age(now.Add(-5*time.Minute).UnixMilli(), now))
	assert.Equal(t, "3h ago", age(now.Add(-3*time.Hour).UnixMilli(), now))
	assert.Equal(t, "2d ago", age(now.Add(-49*time.Hour).UnixMilli(), now))

	assert.Equal(t, "1 session", counted(1, "session"))
	assert.Equal(t, "3 sessions", counted(3, "session"))

	f, err := ParseOutputFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)
	f, err = ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatTable, f)
	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}
