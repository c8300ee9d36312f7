package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)

func TestParseAt(t *testing.T) {
	tests := []struct {
		spec string
		want time.Time
	}{
		{"1h", now.Add(-time.Hour)},
		{"1h30m", now.Add(-90 * time.Minute)},
		{"45s", now.Add(-45 * time.Second)},
		{"2d", now.AddDate(0, 0, -2)},
		{"0d", now},
		{"2025-10-28T09:15:00Z", time.Date(2025, 10, 28, 9, 15, 0, 0, time.UTC)},
		{"2025-10-01", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"  30m  ", now.Add(-30 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseAt(tt.spec, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}
}

func TestParseAt_Invalid(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "-1h", "1w", "2025-13-01", "d"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParseAt(spec, now)
			assert.Error(t, err)
		})
	}
}

func TestParseRangeAt(t *testing.T) {
	t.Run("both bounds", func(t *testing.T) {
		since, until, err := ParseRangeAt("2h", "1h", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-2*time.Hour).UnixMilli(), since)
		assert.Equal(t, now.Add(-time.Hour).UnixMilli(), until)
	})

	t.Run("open ended", func(t *testing.T) {
		since, until, err := ParseRangeAt("1d", "", now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, -1).UnixMilli(), since)
		assert.Zero(t, until)
	})

	t.Run("inverted", func(t *testing.T) {
		_, _, err := ParseRangeAt("1h", "2h", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--since must be before --until")
	})

	t.Run("bad since", func(t *testing.T) {
		_, _, err := ParseRangeAt("soon", "", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --since")
	})
}
