package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/internal/query"
	"github.com/chmdznr/biosync/internal/store"
	"github.com/chmdznr/biosync/pkg/models"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	calls  int
	forced bool
}

func (f *fakeSyncer) Sync(ctx context.Context, force bool) (models.SyncResult, error) {
	f.calls++
	f.forced = force
	return models.SyncResult{HeartRate: 3}, nil
}

func newTestService(t *testing.T, apiKey string) (*Service, *store.Store, *fakeSyncer) {
	t.Helper()
	st := store.New(store.NewMemoryBackend(func() time.Time { return now }), store.Options{})
	t.Cleanup(func() { _ = st.Close() })
	syncer := &fakeSyncer{}
	return New(syncer, query.New(st, func() time.Time { return now }), st, apiKey), st, syncer
}

func TestSyncAuthorization(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name       string
		configured string
		given      string
		wantErr    error
	}{
		{name: "plaintext match", configured: "s3cret", given: "s3cret"},
		{name: "plaintext mismatch", configured: "s3cret", given: "guess", wantErr: ErrUnauthorized},
		{name: "missing key", configured: "s3cret", given: "", wantErr: ErrUnauthorized},
		{name: "bcrypt match", configured: string(hash), given: "s3cret"},
		{name: "bcrypt mismatch", configured: string(hash), given: "guess", wantErr: ErrUnauthorized},
		{name: "no key configured", configured: "", given: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, syncer := newTestService(t, tt.configured)
			result, err := svc.Sync(context.Background(), tt.given, true)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, syncer.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, result.HeartRate)
			assert.True(t, syncer.forced)
		})
	}
}

func TestEmptyAPIKeyWarns(t *testing.T) {
	prev := logging.Logger()
	t.Cleanup(func() { logging.SetLogger(prev) })
	var buf bytes.Buffer
	logging.SetLogger(zerolog.New(&buf))

	newTestService(t, "key")
	assert.Empty(t, buf.String())

	newTestService(t, "")
	assert.Contains(t, buf.String(), "authorization is disabled")
}

func TestReadingsRejectsBadRequests(t *testing.T) {
	svc, _, _ := newTestService(t, "")

	_, err := svc.Readings(context.Background(), "weight", 24)
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "category", reqErr.Problems[0].Field)

	_, err = svc.Readings(context.Background(), "heart_rate", 0)
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "window", reqErr.Problems[0].Field)

	_, err = svc.Readings(context.Background(), "heart_rate", 3000000)
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "window", reqErr.Problems[0].Field)

	_, err = svc.Readings(context.Background(), "sleep", 200000)
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "window", reqErr.Problems[0].Field)
}

func TestIngestSingleAndBatch(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, "key")

	n, err := svc.Ingest(ctx, "key", []byte(`{"category":"heart_rate","timestamp":"2024-03-10T10:00:00+02:00","bpm":72}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.Ingest(ctx, "key", []byte(`[
		{"category":"steps","timestamp":"2024-03-10T09:00:00Z","count":4200,"distance":3.1},
		{"category":"stress","timestamp":"2024-03-10T09:00:00.250Z","level":41,"label":"medium"},
		{"category":"sleep","timestamp":"2024-03-10T06:00:00Z","start":"2024-03-09T22:30:00Z","end":"2024-03-10T06:00:00Z","total_minutes":450}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entry, ok, err := st.GetLatest(ctx, models.HeartRateCategory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-10T08:00:00Z", entry.Timestamp)

	entry, ok, err = st.GetLatest(ctx, models.StressCategory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-10T09:00:00Z", entry.Timestamp)

	view, err := svc.Readings(ctx, "steps", 1)
	require.NoError(t, err)
	assert.Equal(t, 4200, view.(query.StepsView).Today)
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{name: "empty", payload: "  ", field: ""},
		{name: "not json", payload: "bpm=72", field: ""},
		{name: "empty array", payload: "[]", field: ""},
		{name: "unknown category", payload: `{"category":"weight","timestamp":"2024-03-10T10:00:00Z"}`, field: "[0].category"},
		{name: "missing timestamp", payload: `{"category":"heart_rate","bpm":72}`, field: "[0].timestamp"},
		{name: "bpm out of range", payload: `{"category":"heart_rate","timestamp":"2024-03-10T10:00:00Z","bpm":0}`, field: "[0].bpm"},
		{name: "bad timestamp", payload: `{"category":"heart_rate","timestamp":"2024.03.10 10:00:00","bpm":72}`, field: "[0].timestamp"},
		{name: "negative distance", payload: `[{"category":"steps","timestamp":"2024-03-10T10:00:00Z","count":1},{"category":"steps","timestamp":"2024-03-10T10:00:00Z","count":1,"distance":-1}]`, field: "[1].distance"},
		{name: "sleep inverted", payload: `{"category":"sleep","timestamp":"2024-03-10T06:00:00Z","start":"2024-03-10T07:00:00Z","end":"2024-03-10T06:00:00Z"}`, field: "[0].start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, st, _ := newTestService(t, "")

			n, err := svc.Ingest(ctx, "", []byte(tt.payload))
			assert.Equal(t, 0, n)
			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr), "got %v", err)
			require.NotEmpty(t, reqErr.Problems)
			assert.Equal(t, tt.field, reqErr.Problems[0].Field)

			for _, c := range models.Categories() {
				_, ok, err := st.GetLatest(ctx, c)
				require.NoError(t, err)
				assert.False(t, ok, "nothing may be written for %s", c)
			}
		})
	}
}

func TestIngestRequiresKey(t *testing.T) {
	svc, _, _ := newTestService(t, "key")
	_, err := svc.Ingest(context.Background(), "nope", []byte(`{"category":"heart_rate","timestamp":"2024-03-10T10:00:00Z","bpm":72}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, "")

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status.LastSyncTime)
	for _, c := range models.Categories() {
		assert.False(t, status.Available[c])
	}

	require.NoError(t, st.PutReading(ctx, models.HeartRate{Timestamp: "2024-03-10T10:00:00Z", BPM: 64}))
	require.NoError(t, st.PutReading(ctx, models.Sleep{Timestamp: "2024-03-10T06:00:00Z", Start: "2024-03-09T23:00:00Z", End: "2024-03-10T06:00:00Z", TotalMinutes: 420}))
	require.NoError(t, st.SaveCursor(ctx, models.SyncCursor{At: now, Version: 2}))

	status, err = svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncTime)
	assert.True(t, now.Equal(*status.LastSyncTime))
	assert.Equal(t, uint64(2), status.CursorVersion)
	assert.True(t, status.Available[models.HeartRateCategory])
	assert.True(t, status.Available[models.SleepCategory])
	assert.False(t, status.Available[models.StepsCategory])
	assert.Equal(t, models.LatestValue{Timestamp: "2024-03-10T10:00:00Z", Value: 64, Unit: "bpm"}, status.Latest[models.HeartRateCategory])
	assert.Equal(t, 420.0, status.Latest[models.SleepCategory].Value)
}
