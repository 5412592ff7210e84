package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusfs/objectsync/internal/cache"
	"github.com/nimbusfs/objectsync/internal/config"
	"github.com/nimbusfs/objectsync/internal/download"
	"github.com/nimbusfs/objectsync/internal/events"
	"github.com/nimbusfs/objectsync/internal/logging"
	"github.com/nimbusfs/objectsync/internal/move"
	"github.com/nimbusfs/objectsync/internal/provider"
	"github.com/nimbusfs/objectsync/internal/registry"
	"github.com/nimbusfs/objectsync/internal/scheduler"
	"github.com/nimbusfs/objectsync/internal/store"
	"github.com/nimbusfs/objectsync/internal/syncer"
	"github.com/nimbusfs/objectsync/internal/tree"
	"github.com/nimbusfs/objectsync/internal/upload"
)

// app wires every component together for one CLI invocation, the way the
// teacher's cmd/rescale-int/main.go assembles its services before handing
// control to the UI loop — here handed to cobra's command tree instead.
type app struct {
	cfg       *config.Config
	db        *store.Store
	bus       *events.Bus
	log       *logging.Logger
	tree      *tree.Builder
	cache     *cache.Mutator
	providers *registry.Providers
	flags     *registry.Flags
	syncer    *syncer.Syncer

	uploads   *scheduler.UploadScheduler
	downloads *scheduler.DownloadScheduler
	moves     *scheduler.MoveScheduler
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	log := logging.NewDefaultCLILogger()
	bus := events.NewBus(0)
	builder := tree.NewBuilder(db)
	now := func() int64 { return time.Now().Unix() }
	mutator := cache.New(db, bus, now)
	providers := registry.NewProviders()
	flags := registry.NewFlags()

	for name, acct := range cfg.Accounts {
		client, err := provider.New(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("dial account %q: %w", name, err)
		}
		providers.Register(acct.AccountID, client)
	}

	uploadEngine := upload.New(db, mutator, bus, flags, log, now)
	downloadEngine := download.New(db, mutator, bus, flags, log, now)
	moveEngine := move.New(db, mutator, bus, flags, log, now)

	a := &app{
		cfg: cfg, db: db, bus: bus, log: log, tree: builder, cache: mutator,
		providers: providers, flags: flags,
		syncer:    syncer.New(db, builder, bus, log, now),
		uploads:   scheduler.NewUploadScheduler(ctx, db, uploadEngine, providers, flags, log),
		downloads: scheduler.NewDownloadScheduler(ctx, db, downloadEngine, providers, flags, log),
		moves:     scheduler.NewMoveScheduler(ctx, db, moveEngine, providers, flags, log),
	}

	if err := db.RecoverNonTerminalSessions(now()); err != nil {
		return nil, fmt.Errorf("recover in-flight sessions: %w", err)
	}
	return a, nil
}

// account resolves name against the configured accounts, erroring with the
// same message shape config.Validate uses elsewhere in this repo.
func (a *app) account(name string) (*config.Account, error) {
	acct, ok := a.cfg.Accounts[name]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", name)
	}
	return acct, nil
}

func (a *app) client(name string) (*provider.Client, error) {
	acct, err := a.account(name)
	if err != nil {
		return nil, err
	}
	client, ok := a.providers.Get(acct.AccountID)
	if !ok {
		return nil, fmt.Errorf("account %q: no client registered", name)
	}
	return client, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
