// Package query builds per-category windowed views over the time-series
// store. Every view is read-only.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chmdznr/biosync/internal/store"
	"github.com/chmdznr/biosync/pkg/models"
)

const (
	heartRateLimit = 50
	sleepLimit     = 7
	stressLimit    = 20

	// maxWindowHours keeps now minus the window representable as a time.Duration
	maxWindowHours = 100 * 365 * 24
)

// ErrInvalidWindow is returned for a window that is not positive or longer
// than a hundred years
var ErrInvalidWindow = errors.New("window must be positive and at most 100 years")

// Reader is the read side of the store
type Reader interface {
	ListSince(ctx context.Context, c models.Category, cutoff string) ([]store.Entry, error)
	GetLatest(ctx context.Context, c models.Category) (store.Entry, bool, error)
}

// Engine answers view queries
type Engine struct {
	reader Reader
	now    func() time.Time
}

// New creates an engine; a nil clock means time.Now
func New(reader Reader, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{reader: reader, now: now}
}

// HeartRateView is the heart rate window
type HeartRateView struct {
	Latest   *models.HeartRate  `json:"latest"`
	Readings []models.HeartRate `json:"readings"`
	Min      int                `json:"min"`
	Max      int                `json:"max"`
	Avg      float64            `json:"avg"`
}

// SleepView holds recent sleep sessions
type SleepView struct {
	Latest   *models.Sleep  `json:"latest"`
	Sessions []models.Sleep `json:"sessions"`
}

// DailySteps is the step total of one UTC date
type DailySteps struct {
	Date  string `json:"date"`
	Steps int    `json:"steps"`
}

// StepsView groups step counters by day
type StepsView struct {
	Today int          `json:"today"`
	Daily []DailySteps `json:"daily"`
}

// StressView is the stress window
type StressView struct {
	Latest   *models.Stress  `json:"latest"`
	Readings []models.Stress `json:"readings"`
	Avg      float64         `json:"avg"`
}

// View dispatches to the view of category c. The window is in hours for
// heart_rate and stress, in days for sleep and steps.
func (e *Engine) View(ctx context.Context, c models.Category, window int) (any, error) {
	switch c {
	case models.HeartRateCategory:
		return e.HeartRate(ctx, window)
	case models.SleepCategory:
		return e.Sleep(ctx, window)
	case models.StepsCategory:
		return e.Steps(ctx, window)
	case models.StressCategory:
		return e.Stress(ctx, window)
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, c)
}

// HeartRate returns the latest pointer, up to 50 readings of the last hours
// and min/max/avg over the whole window
func (e *Engine) HeartRate(ctx context.Context, hours int) (HeartRateView, error) {
	view := HeartRateView{Readings: []models.HeartRate{}}

	all, err := listSince[models.HeartRate](ctx, e, models.HeartRateCategory, hours)
	if err != nil {
		return view, err
	}
	view.Latest, err = latest[models.HeartRate](ctx, e, models.HeartRateCategory)
	if err != nil {
		return view, err
	}

	if len(all) > 0 {
		view.Min, view.Max = all[0].BPM, all[0].BPM
		sum := 0
		for _, r := range all {
			view.Min = min(view.Min, r.BPM)
			view.Max = max(view.Max, r.BPM)
			sum += r.BPM
		}
		view.Avg = float64(sum) / float64(len(all))
	}
	view.Readings = head(all, heartRateLimit)
	return view, nil
}

// Sleep returns up to 7 sessions that ended in the last days
func (e *Engine) Sleep(ctx context.Context, days int) (SleepView, error) {
	view := SleepView{Sessions: []models.Sleep{}}

	hours, err := dayWindow(days)
	if err != nil {
		return view, err
	}
	all, err := listSince[models.Sleep](ctx, e, models.SleepCategory, hours)
	if err != nil {
		return view, err
	}
	view.Sessions = head(all, sleepLimit)
	if len(view.Sessions) > 0 {
		s := view.Sessions[0]
		view.Latest = &s
	}
	return view, nil
}

// Steps returns the largest counter seen per date over the last days,
// newest date first
func (e *Engine) Steps(ctx context.Context, days int) (StepsView, error) {
	view := StepsView{Daily: []DailySteps{}}

	hours, err := dayWindow(days)
	if err != nil {
		return view, err
	}
	all, err := listSince[models.Steps](ctx, e, models.StepsCategory, hours)
	if err != nil {
		return view, err
	}

	// readings are newest first, so dates come out newest first too
	index := make(map[string]int)
	for _, r := range all {
		date := r.Timestamp[:10]
		i, ok := index[date]
		if !ok {
			index[date] = len(view.Daily)
			view.Daily = append(view.Daily, DailySteps{Date: date, Steps: r.Count})
			continue
		}
		view.Daily[i].Steps = max(view.Daily[i].Steps, r.Count)
	}

	if i, ok := index[e.now().UTC().Format(time.DateOnly)]; ok {
		view.Today = view.Daily[i].Steps
	}
	return view, nil
}

// Stress returns the latest pointer, up to 20 readings of the last hours
// and the average level over the whole window
func (e *Engine) Stress(ctx context.Context, hours int) (StressView, error) {
	view := StressView{Readings: []models.Stress{}}

	all, err := listSince[models.Stress](ctx, e, models.StressCategory, hours)
	if err != nil {
		return view, err
	}
	view.Latest, err = latest[models.Stress](ctx, e, models.StressCategory)
	if err != nil {
		return view, err
	}

	if len(all) > 0 {
		sum := 0.0
		for _, r := range all {
			sum += r.Level
		}
		view.Avg = sum / float64(len(all))
	}
	view.Readings = head(all, stressLimit)
	return view, nil
}

func dayWindow(days int) (int, error) {
	if days <= 0 || days > maxWindowHours/24 {
		return 0, fmt.Errorf("%w: %d days", ErrInvalidWindow, days)
	}
	return days * 24, nil
}

func (e *Engine) cutoff(hours int) (string, error) {
	if hours <= 0 || hours > maxWindowHours {
		return "", fmt.Errorf("%w: %d", ErrInvalidWindow, hours)
	}
	return models.FormatTimestamp(e.now().Add(-time.Duration(hours) * time.Hour)), nil
}

func listSince[T models.Reading](ctx context.Context, e *Engine, c models.Category, hours int) ([]T, error) {
	cutoff, err := e.cutoff(hours)
	if err != nil {
		return nil, err
	}
	entries, err := e.reader.ListSince(ctx, c, cutoff)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(entries))
	for _, entry := range entries {
		v, err := decodeEntry[T](c, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func latest[T models.Reading](ctx context.Context, e *Engine, c models.Category) (*T, error) {
	entry, ok, err := e.reader.GetLatest(ctx, c)
	if err != nil || !ok {
		return nil, err
	}
	v, err := decodeEntry[T](c, entry)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeEntry[T models.Reading](c models.Category, entry store.Entry) (T, error) {
	var zero T
	r, err := entry.Reading(c)
	if err != nil {
		return zero, fmt.Errorf("decode %s reading %s: %w", c, entry.Timestamp, err)
	}
	v, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("decode %s reading %s: unexpected type %T", c, entry.Timestamp, r)
	}
	return v, nil
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
