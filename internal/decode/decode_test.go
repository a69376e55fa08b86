package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/biosync/pkg/models"
)

func TestHeartRateSkipsMalformedRows(t *testing.T) {
	raw := []byte("time,bpm,source\n" +
		"2024.03.01 08:00:00,61,band\n" +
		"2024.03.01 08:01:00,63,band\n" +
		"2024.03.01 08:02:00,n/a,band\n" +
		"2024.03.01 08:03:00,70,band\n" +
		"2024.03.01 08:04:00,72,band\n")

	readings := HeartRate(raw)
	require.Len(t, readings, 4)

	first := readings[0].(models.HeartRate)
	assert.Equal(t, "2024-03-01T08:00:00Z", first.Timestamp)
	assert.Equal(t, 61, first.BPM)
	assert.Equal(t, "2024-03-01T08:04:00Z", readings[3].Time())
}

func TestDecodeEmptyInputs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "header only", raw: "time,bpm,source\n"},
		{name: "header only no newline", raw: "time,bpm,source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range models.Categories() {
				rule, ok := RuleFor(c)
				require.True(t, ok)
				readings := Decode(rule, []byte(tt.raw))
				assert.NotNil(t, readings, c)
				assert.Empty(t, readings, c)
			}
		})
	}
}

func TestHeartRateRowShape(t *testing.T) {
	raw := []byte("\xEF\xBB\xBFtime,bpm,source\r\n" +
		"2024.03.01 08:00:00,61\r\n" + // too few fields
		"2024-03-01 08:01:00,62,band\r\n" + // wrong date format
		" 2024.03.01 08:02:00 , 64 ,band\r\n")

	readings := HeartRate(raw)
	require.Len(t, readings, 1)
	assert.Equal(t, models.HeartRate{Timestamp: "2024-03-01T08:02:00Z", BPM: 64}, readings[0])
}

func TestStepsOptionalFields(t *testing.T) {
	raw := []byte("time,steps,distance,calories\n" +
		"2024.03.01 10:00:00,120,85.5,4.2\n" +
		"2024.03.01 14:00:00,95,,\n" +
		"2024.03.01 18:00:00,310,bad\n" +
		"2024.03.01 19:00:00,lots,1,1\n")

	readings := Steps(raw)
	require.Len(t, readings, 3)

	first := readings[0].(models.Steps)
	require.NotNil(t, first.Distance)
	require.NotNil(t, first.Calories)
	assert.InDelta(t, 85.5, *first.Distance, 1e-9)
	assert.InDelta(t, 4.2, *first.Calories, 1e-9)

	second := readings[1].(models.Steps)
	assert.Nil(t, second.Distance)
	assert.Nil(t, second.Calories)

	third := readings[2].(models.Steps)
	assert.Equal(t, 310, third.Count)
	assert.Nil(t, third.Distance)
}

func TestStressLabel(t *testing.T) {
	raw := []byte("time,level,label\n" +
		"2024.03.01 09:00:00,42.5,moderate\n" +
		"2024.03.01 09:05:00,12,\n" +
		"2024.03.01 09:10:00,NaN,high\n")

	readings := Stress(raw)
	require.Len(t, readings, 2)
	assert.Equal(t, models.Stress{Timestamp: "2024-03-01T09:00:00Z", Level: 42.5, Label: "moderate"}, readings[0])
	assert.Equal(t, models.Stress{Timestamp: "2024-03-01T09:05:00Z", Level: 12}, readings[1])
}

func TestSleepAggregation(t *testing.T) {
	raw := []byte("time,duration,stage\n" +
		"2024.03.01 23:00:00,30,light\n" +
		"2024.03.01 23:00:30,30,deep\n" +
		"2024.03.01 23:01:00,40,rem\n")

	readings := Sleep(raw)
	require.Len(t, readings, 1)

	s := readings[0].(models.Sleep)
	assert.Equal(t, "2024-03-01T23:00:00Z", s.Start)
	assert.Equal(t, "2024-03-01T23:01:00Z", s.End)
	assert.Equal(t, s.End, s.Timestamp)
	assert.Equal(t, 2, s.TotalMinutes)
	require.NotNil(t, s.Stages)
	assert.Equal(t, models.SleepStages{Light: 0, Deep: 1, REM: 1}, *s.Stages)
}

func TestSleepUnknownStageCountsTowardTotal(t *testing.T) {
	raw := []byte("time,duration,stage\n" +
		"2024.03.01 23:00:00,600,LIGHT\n" +
		"2024.03.01 23:10:00,300,unknown\n" +
		"2024.03.01 23:15:00,1200,Deep\n" +
		"2024.03.01 23:35:00,300,awake\n")

	readings := Sleep(raw)
	require.Len(t, readings, 1)

	s := readings[0].(models.Sleep)
	assert.Equal(t, 40, s.TotalMinutes)
	assert.Equal(t, models.SleepStages{Awake: 5, Light: 10, Deep: 20}, *s.Stages)
}

func TestSleepSumsStagesBeforeRounding(t *testing.T) {
	raw := []byte("time,duration,stage\n" +
		"2024.03.01 00:00:00,30,light\n" +
		"2024.03.01 00:00:30,60,deep\n" +
		"2024.03.01 00:01:30,30,light\n")

	readings := Sleep(raw)
	require.Len(t, readings, 1)

	s := readings[0].(models.Sleep)
	assert.Equal(t, 2, s.TotalMinutes)
	assert.Equal(t, models.SleepStages{Light: 1, Deep: 1}, *s.Stages)
	assert.Equal(t, "2024-03-01T00:00:00Z", s.Start)
	assert.Equal(t, "2024-03-01T00:01:30Z", s.End)
}

func TestSleepStagesAddUpToTotal(t *testing.T) {
	raw := []byte("time,duration,stage\n" +
		"2024.03.01 23:00:00,29,awake\n" +
		"2024.03.01 23:00:29,95,light\n" +
		"2024.03.01 23:02:04,44,rem\n" +
		"2024.03.01 23:02:48,61,light\n" +
		"2024.03.01 23:03:49,17,\n" +
		"2024.03.01 23:04:06,91,deep\n")

	readings := Sleep(raw)
	require.Len(t, readings, 1)

	s := readings[0].(models.Sleep)
	stages := *s.Stages
	assert.Equal(t, 6, s.TotalMinutes)
	assert.Equal(t, models.SleepStages{Awake: 0, Light: 3, Deep: 2, REM: 0}, stages)
	assert.LessOrEqual(t, stages.Awake+stages.Light+stages.Deep+stages.REM, s.TotalMinutes)
}

func TestSleepNeedsTwoRows(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "single row", raw: "time,duration,stage\n2024.03.01 23:00:00,30,light\n"},
		{name: "one valid row", raw: "time,duration,stage\n2024.03.01 23:00:00,30,light\nbroken,30,deep\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Sleep([]byte(tt.raw)))
		})
	}
}

func TestDecoderLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	d := New(loc)
	rule, _ := RuleFor(models.HeartRateCategory)

	readings := d.Decode(rule, []byte("time,bpm,source\n2024.03.01 08:00:00,61,band\n"))
	require.Len(t, readings, 1)
	assert.Equal(t, "2024-03-01T06:00:00Z", readings[0].Time())
}

func TestCapped(t *testing.T) {
	readings := make([]models.Reading, 0, 5)
	for i := 0; i < 5; i++ {
		ts := models.FormatTimestamp(time.Date(2024, 3, 1, 8, i, 0, 0, time.UTC))
		readings = append(readings, models.HeartRate{Timestamp: ts, BPM: 60 + i})
	}

	capped := Capped(readings, 2)
	require.Len(t, capped, 2)
	assert.Equal(t, 63, capped[0].(models.HeartRate).BPM)
	assert.Equal(t, 64, capped[1].(models.HeartRate).BPM)

	assert.Len(t, Capped(readings, 0), 5)
	assert.Len(t, Capped(readings, 10), 5)
}

func TestRuleCaps(t *testing.T) {
	tests := []struct {
		category models.Category
		cap      int
	}{
		{models.HeartRateCategory, 200},
		{models.StepsCategory, 100},
		{models.SleepCategory, 0},
		{models.StressCategory, 0},
	}
	for _, tt := range tests {
		rule, ok := RuleFor(tt.category)
		require.True(t, ok)
		assert.Equal(t, tt.cap, rule.Cap, tt.category)
	}
}
