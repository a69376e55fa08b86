// Package remote reads exported files from an S3-compatible object store.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/pkg/models"
)

// DefaultMaxObjectSize bounds a single download
const DefaultMaxObjectSize = 64 << 20

var (
	// ErrCredential is returned when no usable credential can be obtained
	ErrCredential = errors.New("remote credential unavailable")

	// ErrObjectTooLarge is returned when a download exceeds the configured limit
	ErrObjectTooLarge = errors.New("remote object too large")
)

// Config holds remote store settings
type Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Secure       bool

	// Pattern is a glob matched against object base names, e.g. "*.csv*".
	// Empty matches everything.
	Pattern string

	MaxObjectSize int64
}

// Remote opens authenticated sessions against the object store
type Remote struct {
	cfg       Config
	creds     *credentials.Credentials
	pattern   glob.Glob
	transport http.RoundTripper
}

// New creates a Remote. Static keys are used when configured, otherwise
// the MinIO and AWS environment variables are consulted.
func New(cfg Config) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("remote bucket is required")
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = DefaultMaxObjectSize
	}

	var pattern glob.Glob
	if cfg.Pattern != "" {
		g, err := glob.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", cfg.Pattern, err)
		}
		pattern = g
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvMinio{},
			&credentials.EnvAWS{},
		})
	}

	return &Remote{
		cfg:       cfg,
		creds:     creds,
		pattern:   pattern,
		transport: newTransport(),
	}, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Session is an authenticated connection to the bucket
type Session struct {
	client        *minio.Client
	bucket        string
	pattern       glob.Glob
	maxObjectSize int64
}

// Open obtains a credential and builds a client signed with it
func (r *Remote) Open(ctx context.Context) (*Session, error) {
	value, err := r.creds.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	if value.AccessKeyID == "" || value.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: no access key configured", ErrCredential)
	}

	client, err := minio.New(r.cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(value.AccessKeyID, value.SecretAccessKey, value.SessionToken),
		Secure:       r.cfg.Secure,
		Transport:    r.transport,
		Region:       r.cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Session{
		client:        client,
		bucket:        r.cfg.Bucket,
		pattern:       r.pattern,
		maxObjectSize: r.cfg.MaxObjectSize,
	}, nil
}

// ListRecent returns at most limit files under folder, most recently
// modified first
func (s *Session) ListRecent(ctx context.Context, folder string, limit int) ([]models.RemoteFile, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := folderPrefix(folder)
	var files []models.RemoteFile
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			logMinioError(obj.Err, prefix)
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, prefix, obj.Err)
		}
		files = append(files, models.RemoteFile{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return selectRecent(files, s.pattern, limit), nil
}

// Download fetches the content of file, transparently gunzipping .gz objects
func (s *Session) Download(ctx context.Context, file models.RemoteFile) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, file.Key, minio.GetObjectOptions{})
	if err != nil {
		logMinioError(err, file.Key)
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, file.Key, err)
	}
	defer obj.Close()

	data, err := readBody(obj, file.Key, s.maxObjectSize)
	if err != nil {
		logMinioError(err, file.Key)
		return nil, fmt.Errorf("download %s/%s: %w", s.bucket, file.Key, err)
	}
	return data, nil
}

func folderPrefix(folder string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}

// selectRecent drops directory markers and non-matching names, then keeps
// the newest limit files
func selectRecent(files []models.RemoteFile, pattern glob.Glob, limit int) []models.RemoteFile {
	kept := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f.Key, "/") {
			continue
		}
		if pattern != nil && !pattern.Match(path.Base(f.Key)) {
			continue
		}
		kept = append(kept, f)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].LastModified.Equal(kept[j].LastModified) {
			return kept[i].Key > kept[j].Key
		}
		return kept[i].LastModified.After(kept[j].LastModified)
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func readBody(r io.Reader, key string, max int64) ([]byte, error) {
	if strings.HasSuffix(strings.ToLower(key), ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrObjectTooLarge, max)
	}
	return buf.Bytes(), nil
}

func logMinioError(err error, key string) {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		return
	}
	logging.Warn().
		Str("code", resp.Code).
		Str("detail", resp.Message).
		Str("bucket", resp.BucketName).
		Str("key", key).
		Msg("Remote store error")
}
