package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/worktime/internal/config"
)

func openTestApp(t *testing.T, configPath string) *app {
	t.Helper()

	c, err := config.LoadFromFile(configPath)
	require.NoError(t, err)

	a, err := openApp(c)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
	})
	return a
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"8H", 8 * time.Hour, false},
		{"", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSince(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0h00m", formatDuration(0))
	assert.Equal(t, "1h05m", formatDuration(65*time.Minute))
	assert.Equal(t, "26h00m", formatDuration(26*time.Hour+20*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
