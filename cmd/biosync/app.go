package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/biosync/internal/badgerkv"
	"github.com/chmdznr/biosync/internal/config"
	"github.com/chmdznr/biosync/internal/db"
	"github.com/chmdznr/biosync/internal/decode"
	"github.com/chmdznr/biosync/internal/logging"
	"github.com/chmdznr/biosync/internal/query"
	"github.com/chmdznr/biosync/internal/remote"
	"github.com/chmdznr/biosync/internal/service"
	"github.com/chmdznr/biosync/internal/store"
	"github.com/chmdznr/biosync/internal/sync"
)

var errRemoteNotConfigured = errors.New("remote endpoint and bucket are not configured")

// app holds everything a command needs, wired from the configuration
type app struct {
	cfg         *config.Config
	backend     store.Backend
	store       *store.Store
	coordinator *sync.Coordinator
	service     *service.Service
}

func newApp(c *cli.Context, progress sync.Progress) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return nil, err
	}
	st := store.New(backend, store.Options{TTL: cfg.Storage.TTL, PageSize: cfg.Storage.PageSize})

	rem, err := newRemote(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	loc, err := cfg.Decode.Location()
	if err != nil {
		st.Close()
		return nil, err
	}
	coordinator := sync.NewCoordinator(rem, st, sync.Options{
		Folders:   cfg.Folders.Map(),
		ListLimit: cfg.Remote.ListLimit,
		Decoder:   decode.New(loc),
		Progress:  progress,
	})

	svc := service.New(coordinator, query.New(st, nil), st, cfg.API.Key)

	return &app{
		cfg:         cfg,
		backend:     backend,
		store:       st,
		coordinator: coordinator,
		service:     svc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openBackend(cfg config.StorageConfig) (store.Backend, error) {
	logging.Debug().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("Opening store backend")
	switch cfg.Driver {
	case "sqlite":
		return db.New(cfg.Path)
	case "badger":
		return badgerkv.Open(cfg.Path)
	case "memory":
		return store.NewMemoryBackend(nil), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func newRemote(cfg *config.Config) (sync.Remote, error) {
	if !cfg.RemoteConfigured() {
		return sync.RemoteFunc(func(ctx context.Context) (sync.Session, error) {
			return nil, errRemoteNotConfigured
		}), nil
	}

	r, err := remote.New(remote.Config{
		Endpoint:     cfg.Remote.Endpoint,
		Bucket:       cfg.Remote.Bucket,
		AccessKey:    cfg.Remote.AccessKey,
		SecretKey:    cfg.Remote.SecretKey,
		SessionToken: cfg.Remote.SessionToken,
		Region:       cfg.Remote.Region,
		Secure:       cfg.Remote.Secure,
		Pattern:      cfg.Remote.Pattern,
	})
	if err != nil {
		return nil, err
	}
	return sync.RemoteFunc(func(ctx context.Context) (sync.Session, error) {
		session, err := r.Open(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	}), nil
}
