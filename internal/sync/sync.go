// Package sync pulls recently exported files from the remote store, decodes
// them and writes the readings into the time-series store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/biosync/internal/decode"
	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/internal/metrics"
	"github.com/chmdznr/biosync/pkg/models"
)

// DefaultListLimit is the number of newest files considered per category
const DefaultListLimit = 2

// Remote acquires a credential and opens a session
type Remote interface {
	Open(ctx context.Context) (Session, error)
}

// RemoteFunc adapts a function to Remote
type RemoteFunc func(ctx context.Context) (Session, error)

func (f RemoteFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// Session lists and downloads exported files
type Session interface {
	ListRecent(ctx context.Context, folder string, limit int) ([]models.RemoteFile, error)
	Download(ctx context.Context, file models.RemoteFile) ([]byte, error)
}

// Store is the part of the time-series store the coordinator writes to
type Store interface {
	PutReading(ctx context.Context, r models.Reading) error
	Cursor(ctx context.Context) (models.SyncCursor, error)
	SaveCursor(ctx context.Context, cursor models.SyncCursor) error
}

// Progress receives per-file progress of a pass
type Progress interface {
	Begin(c models.Category, files []models.RemoteFile)
	FileDone(stats models.Stats)
	End(c models.Category)
}

type noProgress struct{}

func (noProgress) Begin(models.Category, []models.RemoteFile) {}
func (noProgress) FileDone(models.Stats)                      {}
func (noProgress) End(models.Category)                        {}

// Stage names the step of a pass that failed
type Stage string

const (
	StageCredential Stage = "credential"
	StageCursor     Stage = "cursor"
	StageList       Stage = "list"
	StageDownload   Stage = "download"
	StageStore      Stage = "store"
	StageCommit     Stage = "commit"
)

// PassError describes where a pass stopped
type PassError struct {
	Category models.Category
	File     string
	Stage    Stage
	Err      error
}

func (e *PassError) Error() string {
	switch {
	case e.File != "":
		return fmt.Sprintf("sync %s: %s %s: %v", e.Category, e.Stage, e.File, e.Err)
	case e.Category != "":
		return fmt.Sprintf("sync %s: %s: %v", e.Category, e.Stage, e.Err)
	}
	return fmt.Sprintf("sync: %s: %v", e.Stage, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// Options configures a Coordinator
type Options struct {
	// Folders maps a category to its folder in the bucket. Categories
	// without a folder are skipped.
	Folders   map[models.Category]string
	ListLimit int
	Decoder   *decode.Decoder
	Now       func() time.Time
	Progress  Progress
}

// Coordinator runs sync passes. It is the only writer of the cursor and
// runs at most one pass at a time.
type Coordinator struct {
	remote Remote
	store  Store
	opts   Options
	token  chan struct{}
}

// NewCoordinator creates a coordinator; zero options take defaults
func NewCoordinator(remote Remote, store Store, opts Options) *Coordinator {
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.Decoder == nil {
		opts.Decoder = decode.New(time.UTC)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Progress == nil {
		opts.Progress = noProgress{}
	}

	token := make(chan struct{}, 1)
	token <- struct{}{}
	return &Coordinator{remote: remote, store: store, opts: opts, token: token}
}

// Sync runs one pass. With force the cursor is ignored and every listed
// file is processed again; overwrites make that harmless.
func (c *Coordinator) Sync(ctx context.Context, force bool) (models.SyncResult, error) {
	select {
	case <-c.token:
	case <-ctx.Done():
		return models.SyncResult{}, ctx.Err()
	}
	defer func() { c.token <- struct{}{} }()

	start := c.opts.Now()
	log := logging.With().Str("pass", uuid.NewString()).Bool("force", force).Logger()
	log.Info().Msg("Sync pass started")

	result, err := c.pass(ctx, force)
	metrics.SyncPassDuration.Observe(c.opts.Now().Sub(start).Seconds())
	if err != nil {
		outcome := "error"
		var perr *PassError
		if errors.As(err, &perr) && perr.Stage == StageCredential {
			outcome = "auth_error"
		}
		metrics.SyncPassesTotal.WithLabelValues(outcome).Inc()
		log.Error().Err(err).Int("written", result.Total()).Msg("Sync pass failed")
		return result, err
	}

	metrics.SyncPassesTotal.WithLabelValues("success").Inc()
	log.Info().
		Int("heart_rate", result.HeartRate).
		Int("sleep", result.Sleep).
		Int("steps", result.Steps).
		Int("stress", result.Stress).
		Dur("elapsed", c.opts.Now().Sub(start)).
		Msg("Sync pass finished")
	return result, nil
}

func (c *Coordinator) pass(ctx context.Context, force bool) (models.SyncResult, error) {
	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		return models.SyncResult{}, &PassError{Stage: StageCursor, Err: err}
	}

	session, err := c.remote.Open(ctx)
	if err != nil {
		return models.SyncResult{}, &PassError{Stage: StageCredential, Err: err}
	}

	result, next, err := c.RunPass(ctx, session, cursor, force)
	if err != nil {
		return result, err
	}

	if err := c.store.SaveCursor(ctx, next); err != nil {
		return result, &PassError{Stage: StageCommit, Err: err}
	}
	metrics.SyncCursorTimestamp.Set(float64(next.At.Unix()))
	return result, nil
}

// RunPass processes every configured category against session and returns
// the counts and the cursor to commit. Readings are written as they are
// decoded; nothing here touches the stored cursor.
func (c *Coordinator) RunPass(ctx context.Context, session Session, cursor models.SyncCursor, force bool) (models.SyncResult, models.SyncCursor, error) {
	var result models.SyncResult

	cutoff := cursor.At
	if force {
		cutoff = time.Time{}
	}

	for _, category := range models.Categories() {
		folder, ok := c.opts.Folders[category]
		if !ok || folder == "" {
			logging.Debug().Str("category", string(category)).Msg("No folder configured, skipping")
			continue
		}
		n, err := c.syncCategory(ctx, session, category, folder, cutoff)
		result.Add(category, n)
		if err != nil {
			return result, cursor, err
		}
	}

	return result, cursor.Advance(c.opts.Now()), nil
}

func (c *Coordinator) syncCategory(ctx context.Context, session Session, category models.Category, folder string, cutoff time.Time) (int, error) {
	rule, ok := decode.RuleFor(category)
	if !ok {
		return 0, &PassError{Category: category, Stage: StageList, Err: models.ErrUnknownCategory}
	}

	listed, err := session.ListRecent(ctx, folder, c.opts.ListLimit)
	if err != nil {
		return 0, &PassError{Category: category, Stage: StageList, Err: err}
	}

	files := listed[:0:0]
	for _, f := range listed {
		if f.LastModified.After(cutoff) {
			files = append(files, f)
		}
	}

	c.opts.Progress.Begin(category, files)
	defer c.opts.Progress.End(category)

	written := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return written, &PassError{Category: category, File: f.Key, Stage: StageDownload, Err: err}
		}
		start := c.opts.Now()

		raw, err := session.Download(ctx, f)
		if err != nil {
			return written, &PassError{Category: category, File: f.Key, Stage: StageDownload, Err: err}
		}

		decoded := c.opts.Decoder.Decode(rule, raw)
		readings := decode.Capped(decoded, rule.Cap)
		for _, r := range readings {
			if err := c.store.PutReading(ctx, r); err != nil {
				return written, &PassError{Category: category, File: f.Key, Stage: StageStore, Err: err}
			}
			written++
		}

		metrics.SyncFilesProcessed.WithLabelValues(string(category)).Inc()
		metrics.ReadingsWrittenTotal.WithLabelValues(string(category), "sync").Add(float64(len(readings)))

		stats := models.Stats{
			Category:  category,
			File:      f,
			Decoded:   len(decoded),
			Written:   len(readings),
			Truncated: len(decoded) - len(readings),
			Elapsed:   c.opts.Now().Sub(start),
		}
		c.opts.Progress.FileDone(stats)
		logging.Debug().
			Str("category", string(category)).
			Str("file", f.Key).
			Int("decoded", stats.Decoded).
			Int("written", stats.Written).
			Int("truncated", stats.Truncated).
			Msg("File synced")
	}
	return written, nil
}
