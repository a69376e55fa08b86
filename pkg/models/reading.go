package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// TimestampLayout is the canonical reading timestamp format. Every field is
// fixed width, so lexicographic order of formatted values is chronological order.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in the canonical UTC layout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizeTimestamp parses an RFC 3339 timestamp with any offset and
// returns its canonical UTC form. Sub-second precision is dropped.
func NormalizeTimestamp(s string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return FormatTimestamp(t), nil
}

// IsCanonicalTimestamp reports whether s is already in the canonical layout
func IsCanonicalTimestamp(s string) bool {
	t, err := time.Parse(TimestampLayout, s)
	return err == nil && FormatTimestamp(t) == s
}

// Reading is a single decoded biometric observation. The set of
// implementations is closed: HeartRate, Sleep, Steps and Stress.
type Reading interface {
	Category() Category
	Time() string
	reading()
}

// HeartRate is a pulse sample
type HeartRate struct {
	Timestamp string `json:"timestamp" validate:"required"`
	BPM       int    `json:"bpm" validate:"gt=0,lte=300"`
}

// SleepStages breaks a sleep session down by stage, in minutes
type SleepStages struct {
	Awake int `json:"awake"`
	Light int `json:"light"`
	Deep  int `json:"deep"`
	REM   int `json:"rem"`
}

// Sleep is one aggregated sleep session; Timestamp equals End
type Sleep struct {
	Timestamp    string       `json:"timestamp" validate:"required"`
	Start        string       `json:"start" validate:"required"`
	End          string       `json:"end" validate:"required"`
	TotalMinutes int          `json:"total_minutes" validate:"gte=0"`
	Stages       *SleepStages `json:"stages,omitempty"`
}

// Steps is a cumulative step counter sample
type Steps struct {
	Timestamp string   `json:"timestamp" validate:"required"`
	Count     int      `json:"count" validate:"gte=0"`
	Distance  *float64 `json:"distance,omitempty" validate:"omitempty,gte=0"`
	Calories  *float64 `json:"calories,omitempty" validate:"omitempty,gte=0"`
}

// Stress is a stress level sample
type Stress struct {
	Timestamp string  `json:"timestamp" validate:"required"`
	Level     float64 `json:"level" validate:"gte=0"`
	Label     string  `json:"label,omitempty"`
}

func (HeartRate) Category() Category { return HeartRateCategory }
func (Sleep) Category() Category     { return SleepCategory }
func (Steps) Category() Category     { return StepsCategory }
func (Stress) Category() Category    { return StressCategory }

func (r HeartRate) Time() string { return r.Timestamp }
func (r Sleep) Time() string     { return r.Timestamp }
func (r Steps) Time() string     { return r.Timestamp }
func (r Stress) Time() string    { return r.Timestamp }

func (HeartRate) reading() {}
func (Sleep) reading()     {}
func (Steps) reading()     {}
func (Stress) reading()    {}

// MarshalReading encodes a reading's variant payload. The category is not
// part of the payload; it is carried by the storage key.
func MarshalReading(r Reading) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s reading: %w", r.Category(), err)
	}
	return data, nil
}

// UnmarshalReading decodes a payload written by MarshalReading
func UnmarshalReading(c Category, data []byte) (Reading, error) {
	var (
		r   Reading
		err error
	)
	switch c {
	case HeartRateCategory:
		var v HeartRate
		err = json.Unmarshal(data, &v)
		r = v
	case SleepCategory:
		var v Sleep
		err = json.Unmarshal(data, &v)
		r = v
	case StepsCategory:
		var v Steps
		err = json.Unmarshal(data, &v)
		r = v
	case StressCategory:
		var v Stress
		err = json.Unmarshal(data, &v)
		r = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s reading: %w", c, err)
	}
	return r, nil
}
