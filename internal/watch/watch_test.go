package watch

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*blackboard.Client, *eventbus.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "watch-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, eventbus.New(client)
}

func publishGame(t *testing.T, bus *eventbus.Bus, sessionID string) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		kind    eventbus.Kind
		payload interface{}
	}{
		{eventbus.KindSessionStarted, eventbus.SessionStarted{GraphID: "escape", GraphVersion: 1, Participants: []string{"alice", "bob"}, Location: "cell", Narration: "You're awake. Finally."}},
		{eventbus.KindStateChanged, eventbus.StateChanged{Position: 1, Participant: "alice", Intent: "take(keycard)", Delta: puzzle.Delta{Granted: map[string][]string{"alice": {"keycard"}}}}},
		{eventbus.KindNarration, eventbus.Narration{Position: 1, Participant: "alice", Kind: "applied", Text: "Careful with that."}},
		{eventbus.KindClarification, eventbus.Clarification{Position: 2, Participant: "bob", Text: "Do what, exactly?"}},
		{eventbus.KindSessionEnded, eventbus.SessionEnded{Status: "abandoned", Reason: "idle"}},
	}
	for _, s := range steps {
		_, err := bus.Publish(ctx, sessionID, s.kind, s.payload)
		require.NoError(t, err)
	}
}

func TestStream_DefaultFormat(t *testing.T) {
	client, bus := setup(t)
	publishGame(t, bus, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, Stream(ctx, client, "s1", 0, OutputFormatDefault, &buf))

	out := buf.String()
	assert.Contains(t, out, "#1   ▶️  Session started: escape v1 at cell with alice, bob")
	assert.Contains(t, out, "Anna: You're awake. Finally.")
	assert.Contains(t, out, "🔄 alice: take(keycard) (alice got keycard)")
	assert.Contains(t, out, "💬 Anna to alice: Careful with that.")
	assert.Contains(t, out, "❓ Anna to bob: Do what, exactly?")
	assert.Contains(t, out, "⏹️  Session abandoned: idle")
}

func TestStream_JSONFromSequence(t *testing.T) {
	client, bus := setup(t)
	publishGame(t, bus, "s1")
	publishGame(t, bus, "other")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, Stream(ctx, client, "s1", 3, OutputFormatJSON, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var seqs []uint64
	for _, line := range lines {
		var ev blackboard.WorldEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		assert.Equal(t, "s1", ev.SessionID)
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{4, 5}, seqs)
}

func TestStream_LiveEvents(t *testing.T) {
	client, bus := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() {
		done <- Stream(ctx, client, "s1", 0, OutputFormatDefault, &buf)
	}()

	// give the subscription time to attach before publishing
	time.Sleep(100 * time.Millisecond)
	publishGame(t, bus, "s1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("stream did not stop at session_ended")
	}
	assert.Equal(t, 5, strings.Count(buf.String(), "] #"))
}

func TestStream_ContextCancelled(t *testing.T) {
	client, _ := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := Stream(ctx, client, "quiet", 0, OutputFormatDefault, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_UnknownFormat(t *testing.T) {
	client, _ := setup(t)
	err := Stream(context.Background(), client, "s1", 0, "xml", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		kind     eventbus.Kind
		payload  interface{}
		expected string
	}{
		{"paused", eventbus.KindSessionPaused, eventbus.StatusChanged{Status: "paused"}, "⏸️  Session paused"},
		{"ended without reason", eventbus.KindSessionEnded, eventbus.SessionEnded{Status: "succeeded"}, "⏹️  Session succeeded"},
		{"reward stuck", eventbus.KindRewardStuck, eventbus.RewardStuck{Participant: "bob", Attempts: 6, Error: "timeout"}, "⚠️  Reward for bob stuck after 6 attempts: timeout"},
		{"degraded narration", eventbus.KindNarration, eventbus.Narration{Participant: "bob", Text: "Hm.", Degraded: true}, "💬 Anna to bob: Hm. [scripted]"},
		{"escape", eventbus.KindStateChanged, eventbus.StateChanged{Participant: "alice", Intent: "go(outside)", Delta: puzzle.Delta{Location: "outside"}, Succeeded: true}, "🔄 alice: go(outside) (now at outside) 🏁"},
		{"unknown kind", "lights_flicker", map[string]int{"n": 3}, `lights_flicker {"n":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.payload)
			require.NoError(t, err)

			got, err := describe(&blackboard.WorldEvent{Kind: string(tt.kind), Payload: payload})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDescribe_BadPayload(t *testing.T) {
	_, err := describe(&blackboard.WorldEvent{Kind: string(eventbus.KindNarration), Seq: 7, Payload: []byte(`"nope"`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narration event 7")
}
