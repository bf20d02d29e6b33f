package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	now := time.Date(2025, 10, 29, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		spec    string
		want    time.Time
		wantErr string
	}{
		{"duration", "1h30m", now.Add(-90 * time.Minute), ""},
		{"rfc3339", "2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC), ""},
		{"clock time", "13:04:05", time.Date(2025, 10, 29, 13, 4, 5, 0, time.UTC), ""},
		{"empty", "", time.Time{}, "empty time specification"},
		{"negative", "-5m", time.Time{}, "negative duration"},
		{"garbage", "yesterday", time.Time{}, "invalid time specification"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAt(tt.spec, now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 10, 29, 15, 30, 0, 0, time.UTC)

	since, until, err := parseRangeAt("2h", "1h", now)
	require.NoError(t, err)
	assert.Less(t, since, until)

	since, until, err = parseRangeAt("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = parseRangeAt("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = parseRangeAt("bogus", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = parseRangeAt("", "bogus", now)
	assert.ErrorContains(t, err, "invalid --until")
}
