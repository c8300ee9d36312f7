package blackboard

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toStringHash mimics what Redis hands back from HGETALL
func toStringHash(h map[string]interface{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func TestSessionHashRoundTrip(t *testing.T) {
	original := &SessionRecord{
		ID:             uuid.New().String(),
		GraphID:        "escape",
		GraphVersion:   3,
		Participants:   []string{"alice", "bob"},
		Status:         SessionStatusPaused,
		World:          `{"location":"entrance"}`,
		Persona:        `{"name":"Anna"}`,
		LogLength:      7,
		EndReason:      "",
		CreatedAtMs:    1700000000000,
		LastActivityMs: 1700000005000,
	}

	hash, err := SessionToHash(original)
	require.NoError(t, err)

	decoded, err := HashToSession(toStringHash(hash))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestHashToSession_Errors(t *testing.T) {
	t.Run("malformed participants", func(t *testing.T) {
		_, err := HashToSession(map[string]string{"participants": "[not json"})
		assert.Error(t, err)
	})

	t.Run("non-numeric log length", func(t *testing.T) {
		_, err := HashToSession(map[string]string{"log_length": "many"})
		assert.Error(t, err)
	})

	t.Run("missing participants defaults to empty slice", func(t *testing.T) {
		s, err := HashToSession(map[string]string{"id": "x"})
		require.NoError(t, err)
		assert.NotNil(t, s.Participants)
		assert.Empty(t, s.Participants)
	})
}
