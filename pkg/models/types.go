package models

import (
	"errors"
	"fmt"
	"time"
)

// Category is one of the biometric reading kinds
type Category string

const (
	HeartRateCategory Category = "heart_rate"
	SleepCategory     Category = "sleep"
	StepsCategory     Category = "steps"
	StressCategory    Category = "stress"
)

// ErrUnknownCategory is returned when a category name is not recognised
var ErrUnknownCategory = errors.New("unknown category")

// Categories lists every category in sync order
func Categories() []Category {
	return []Category{HeartRateCategory, SleepCategory, StepsCategory, StressCategory}
}

// ParseCategory converts a name into a Category
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// RemoteFile is an exported file in the remote object store
type RemoteFile struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// SyncCursor is the watermark of the last successful sync pass.
// A zero At means no pass has completed yet.
type SyncCursor struct {
	At      time.Time `json:"at"`
	Version uint64    `json:"version"`
}

// IsZero reports whether no pass has ever been committed
func (c SyncCursor) IsZero() bool {
	return c.At.IsZero()
}

// Advance returns the cursor committed by a pass that finished at finishedAt.
// The cursor never moves backwards.
func (c SyncCursor) Advance(finishedAt time.Time) SyncCursor {
	next := SyncCursor{At: c.At, Version: c.Version + 1}
	if finishedAt.After(c.At) {
		next.At = finishedAt.UTC()
	}
	return next
}

// SyncResult holds per-category counts of readings written by one pass
type SyncResult struct {
	HeartRate int `json:"heart_rate"`
	Sleep     int `json:"sleep"`
	Steps     int `json:"steps"`
	Stress    int `json:"stress"`
}

// Add increments the counter of a category
func (r *SyncResult) Add(c Category, n int) {
	switch c {
	case HeartRateCategory:
		r.HeartRate += n
	case SleepCategory:
		r.Sleep += n
	case StepsCategory:
		r.Steps += n
	case StressCategory:
		r.Stress += n
	}
}

// Get returns the counter of a category
func (r SyncResult) Get(c Category) int {
	switch c {
	case HeartRateCategory:
		return r.HeartRate
	case SleepCategory:
		return r.Sleep
	case StepsCategory:
		return r.Steps
	case StressCategory:
		return r.Stress
	}
	return 0
}

// Total returns the number of readings written across categories
func (r SyncResult) Total() int {
	return r.HeartRate + r.Sleep + r.Steps + r.Stress
}
