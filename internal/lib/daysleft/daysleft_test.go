package daysleft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      int
	}{
		{
			name:      "exactly 24h is one day, not two",
			expiresAt: now.Add(24 * time.Hour),
			want:      1,
		},
		{
			name:      "one second over 24h rounds up",
			expiresAt: now.Add(24*time.Hour + time.Second),
			want:      2,
		},
		{
			name:      "three days minus a minute",
			expiresAt: now.Add(72*time.Hour - time.Minute),
			want:      3,
		},
		{
			name:      "already expired",
			expiresAt: now.Add(-time.Hour),
			want:      0,
		},
		{
			name:      "expired a day and an hour ago",
			expiresAt: now.Add(-25 * time.Hour),
			want:      -1,
		},
		{
			name:      "expires this instant",
			expiresAt: now,
			want:      0,
		},
		{
			name:      "zero time is invalid",
			expiresAt: time.Time{},
			want:      Invalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.expiresAt, now))
		})
	}
}

func TestFromRaw(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, FromRaw(now.AddDate(0, 0, 7).Format(time.RFC3339), now))
	assert.Equal(t, Invalid, FromRaw("not-a-date", now))
	assert.Equal(t, Invalid, FromRaw("", now))
}
