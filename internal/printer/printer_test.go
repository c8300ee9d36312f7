package printer

import (
	"bytes"
	"testing"

	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	SetOutput(&stdout, &stderr)
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		SetOutput(nil, nil)
		color.NoColor = noColor
	})
	return &stdout, &stderr
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Test Error\n\nThis is a test error\n")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "\nTry this fix\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	context := map[string]string{
		"Session":  "3f1c2a90",
		"Instance": "test-instance",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, []string{})
	require.Error(t, err)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, stderr.String(), "  Instance: test-instance\n  Session: 3f1c2a90\n", "context is printed in key order")
}

func TestMessages(t *testing.T) {
	stdout, _ := capture(t)

	Success("saved %d\n", 2)
	Success("✓ already prefixed\n")
	Warning("careful\n")
	Step("next\n")
	Narration("Anna", "The door hisses open.")

	out := stdout.String()
	assert.Contains(t, out, "✓ saved 2\n")
	assert.Contains(t, out, "✓ already prefixed\n")
	assert.NotContains(t, out, "✓ ✓")
	assert.Contains(t, out, "⚠️  careful\n")
	assert.Contains(t, out, "→ next\n")
	assert.Contains(t, out, "Anna: The door hisses open.\n")
}

func TestStatus(t *testing.T) {
	capture(t)
	for _, s := range []blackboard.SessionStatus{
		blackboard.SessionStatusForming,
		blackboard.SessionStatusActive,
		blackboard.SessionStatusPaused,
		blackboard.SessionStatusSucceeded,
		blackboard.SessionStatusFailed,
		blackboard.SessionStatusAbandoned,
	} {
		assert.Equal(t, string(s), Status(s), "no escape codes with colour disabled")
	}
}
