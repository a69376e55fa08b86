// Package service exposes the operations a transport layer calls: trigger
// a sync, read category views, report status and push readings.
package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/internal/metrics"
	"github.com/chmdznr/biosync/internal/query"
	"github.com/chmdznr/biosync/internal/store"
	"github.com/chmdznr/biosync/pkg/models"
)

// ErrUnauthorized is returned when the caller's API key does not match
var ErrUnauthorized = errors.New("unauthorized")

// Problem is one reason a request was rejected
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RequestError reports a malformed request
type RequestError struct {
	Problems []Problem
}

func (e *RequestError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Field == "" {
			msgs = append(msgs, p.Message)
			continue
		}
		msgs = append(msgs, p.Field+": "+p.Message)
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func requestError(field, format string, args ...any) *RequestError {
	return &RequestError{Problems: []Problem{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// Syncer runs sync passes
type Syncer interface {
	Sync(ctx context.Context, force bool) (models.SyncResult, error)
}

// Viewer builds category views
type Viewer interface {
	View(ctx context.Context, c models.Category, window int) (any, error)
}

// Store is the part of the store the service reads and writes directly
type Store interface {
	PutReading(ctx context.Context, r models.Reading) error
	GetLatest(ctx context.Context, c models.Category) (store.Entry, bool, error)
	Cursor(ctx context.Context) (models.SyncCursor, error)
}

// Service implements the facade operations
type Service struct {
	syncer   Syncer
	viewer   Viewer
	store    Store
	apiKey   string
	validate *validator.Validate
}

// New creates a service. apiKey may be plaintext or a bcrypt hash; an
// empty key turns authorization off.
func New(syncer Syncer, viewer Viewer, st Store, apiKey string) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if apiKey == "" {
		logging.Warn().Msg("No API key configured, authorization is disabled")
	}
	return &Service{syncer: syncer, viewer: viewer, store: st, apiKey: apiKey, validate: v}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (s *Service) authorize(key string) error {
	if s.apiKey == "" {
		return nil
	}
	if isBcryptHash(s.apiKey) {
		if bcrypt.CompareHashAndPassword([]byte(s.apiKey), []byte(key)) != nil {
			return ErrUnauthorized
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(s.apiKey), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Sync triggers a pass
func (s *Service) Sync(ctx context.Context, apiKey string, force bool) (models.SyncResult, error) {
	if err := s.authorize(apiKey); err != nil {
		return models.SyncResult{}, err
	}
	return s.syncer.Sync(ctx, force)
}

// Readings returns the view of category over window
func (s *Service) Readings(ctx context.Context, category string, window int) (any, error) {
	c, err := models.ParseCategory(category)
	if err != nil {
		return nil, requestError("category", "unknown category %q", category)
	}
	if window <= 0 {
		return nil, requestError("window", "must be positive, got %d", window)
	}

	view, err := s.viewer.View(ctx, c, window)
	if errors.Is(err, query.ErrInvalidWindow) {
		return nil, requestError("window", "%v", err)
	}
	return view, err
}

// Status reports the last sync and what data is available
func (s *Service) Status(ctx context.Context) (models.Status, error) {
	status := models.Status{
		Available: make(map[models.Category]bool),
		Latest:    make(map[models.Category]models.LatestValue),
	}

	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return status, err
	}
	if !cursor.IsZero() {
		at := cursor.At
		status.LastSyncTime = &at
	}
	status.CursorVersion = cursor.Version

	for _, c := range models.Categories() {
		entry, ok, err := s.store.GetLatest(ctx, c)
		if err != nil {
			return status, err
		}
		status.Available[c] = ok
		if !ok {
			continue
		}
		r, err := entry.Reading(c)
		if err != nil {
			return status, fmt.Errorf("decode latest %s: %w", c, err)
		}
		status.Latest[c] = summarize(r)
	}
	return status, nil
}

func summarize(r models.Reading) models.LatestValue {
	v := models.LatestValue{Timestamp: r.Time()}
	switch r := r.(type) {
	case models.HeartRate:
		v.Value, v.Unit = float64(r.BPM), "bpm"
	case models.Sleep:
		v.Value, v.Unit = float64(r.TotalMinutes), "min"
	case models.Steps:
		v.Value, v.Unit = float64(r.Count), "steps"
	case models.Stress:
		v.Value, v.Unit = r.Level, "level"
	}
	return v
}

type envelope struct {
	Category string `json:"category"`
}

// Ingest writes externally built readings straight into the store. payload
// is one JSON object or an array of objects, each carrying a category and
// the fields of that category's reading. Nothing is written unless every
// reading is valid.
func (s *Service) Ingest(ctx context.Context, apiKey string, payload []byte) (int, error) {
	if err := s.authorize(apiKey); err != nil {
		return 0, err
	}

	items, err := splitPayload(payload)
	if err != nil {
		return 0, err
	}

	readings := make([]models.Reading, 0, len(items))
	var problems []Problem
	for i, raw := range items {
		r, p := s.parseReading(raw, fmt.Sprintf("[%d]", i))
		problems = append(problems, p...)
		if r != nil {
			readings = append(readings, r)
		}
	}
	if len(problems) > 0 {
		return 0, &RequestError{Problems: problems}
	}

	written := 0
	for _, r := range readings {
		if err := s.store.PutReading(ctx, r); err != nil {
			return written, err
		}
		metrics.ReadingsWrittenTotal.WithLabelValues(string(r.Category()), "ingest").Inc()
		written++
	}
	logging.Info().Int("readings", written).Msg("Readings ingested")
	return written, nil
}

func splitPayload(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, requestError("", "empty payload")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, requestError("", "malformed JSON: %v", err)
		}
		if len(items) == 0 {
			return nil, requestError("", "no readings")
		}
		return items, nil
	}
	if trimmed[0] != '{' {
		return nil, requestError("", "expected a JSON object or array")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

func (s *Service) parseReading(raw json.RawMessage, path string) (models.Reading, []Problem) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, []Problem{{Field: path, Message: fmt.Sprintf("malformed JSON: %v", err)}}
	}
	c, err := models.ParseCategory(env.Category)
	if err != nil {
		return nil, []Problem{{Field: path + ".category", Message: fmt.Sprintf("unknown category %q", env.Category)}}
	}

	r, err := models.UnmarshalReading(c, raw)
	if err != nil {
		return nil, []Problem{{Field: path, Message: fmt.Sprintf("malformed %s reading: %v", c, err)}}
	}

	if err := s.validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, []Problem{{Field: path, Message: err.Error()}}
		}
		problems := make([]Problem, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, Problem{Field: path + "." + fe.Field(), Message: translate(fe)})
		}
		return nil, problems
	}

	return normalize(r, path)
}

func translate(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}

// normalize rewrites every timestamp of r in canonical UTC
func normalize(r models.Reading, path string) (models.Reading, []Problem) {
	var problems []Problem
	canonical := func(field string, v *string) {
		ts, err := models.NormalizeTimestamp(*v)
		if err != nil {
			problems = append(problems, Problem{Field: path + "." + field, Message: "must be an RFC 3339 timestamp"})
			return
		}
		*v = ts
	}

	switch v := r.(type) {
	case models.HeartRate:
		canonical("timestamp", &v.Timestamp)
		r = v
	case models.Sleep:
		canonical("timestamp", &v.Timestamp)
		canonical("start", &v.Start)
		canonical("end", &v.End)
		if len(problems) == 0 && v.Start > v.End {
			problems = append(problems, Problem{Field: path + ".start", Message: "must not be after end"})
		}
		r = v
	case models.Steps:
		canonical("timestamp", &v.Timestamp)
		r = v
	case models.Stress:
		canonical("timestamp", &v.Timestamp)
		r = v
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return r, nil
}
