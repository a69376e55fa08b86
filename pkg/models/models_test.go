package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("Heart_Rate")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestCursorAdvance(t *testing.T) {
	var zero SyncCursor
	assert.True(t, zero.IsZero())

	t1 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	c1 := zero.Advance(t1)
	assert.False(t, c1.IsZero())
	assert.Equal(t, uint64(1), c1.Version)
	assert.Equal(t, time.UTC, c1.At.Location())
	assert.True(t, t1.Equal(c1.At))

	c2 := c1.Advance(t1.Add(-time.Hour))
	assert.True(t, c1.At.Equal(c2.At), "cursor never moves backwards")
	assert.Equal(t, uint64(2), c2.Version)
}

func TestSyncResult(t *testing.T) {
	var r SyncResult
	for i, c := range Categories() {
		r.Add(c, i+1)
	}
	r.Add(Category("weight"), 100)

	assert.Equal(t, 1, r.Get(HeartRateCategory))
	assert.Equal(t, 4, r.Get(StressCategory))
	assert.Equal(t, 10, r.Total())
}

func TestTimestamps(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-10T08:00:00Z", "2024-03-10T08:00:00Z"},
		{"2024-03-10T10:00:00+02:00", "2024-03-10T08:00:00Z"},
		{"2024-03-10T08:00:00.999Z", "2024-03-10T08:00:00Z"},
		{"2024-03-09T23:30:00-01:00", "2024-03-10T00:30:00Z"},
	}
	for _, tt := range tests {
		got, err := NormalizeTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.True(t, IsCanonicalTimestamp(got))
	}

	_, err := NormalizeTimestamp("2024.03.10 08:00:00")
	assert.Error(t, err)

	assert.False(t, IsCanonicalTimestamp("2024-03-10T08:00:00+00:00"))
	assert.False(t, IsCanonicalTimestamp("2024-03-10T08:00:00.5Z"))
	assert.False(t, IsCanonicalTimestamp("2024-3-10T08:00:00Z"))
}

func TestUnmarshalReadingErrors(t *testing.T) {
	_, err := UnmarshalReading(Category("weight"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = UnmarshalReading(HeartRateCategory, []byte(`{"bpm":"fast"}`))
	assert.Error(t, err)

	r, err := UnmarshalReading(SleepCategory, []byte(`{"timestamp":"2024-03-10T06:00:00Z","total_minutes":420}`))
	require.NoError(t, err)
	assert.Nil(t, r.(Sleep).Stages)
	assert.Equal(t, "2024-03-10T06:00:00Z", r.Time())
}
