// SPDX-License-Identifier: MIT

// Package daemon wires the subsystems together and owns the process
// lifecycle: single-instance PID claim, HTTP server, catalog watcher,
// config reload, latent child supervision, and ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/justinTNT/tsnotfyi-sub002/internal/api"
	"github.com/justinTNT/tsnotfyi-sub002/internal/cache"
	"github.com/justinTNT/tsnotfyi-sub002/internal/catalog"
	"github.com/justinTNT/tsnotfyi-sub002/internal/config"
	"github.com/justinTNT/tsnotfyi-sub002/internal/explorer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/feature"
	"github.com/justinTNT/tsnotfyi-sub002/internal/health"
	"github.com/justinTNT/tsnotfyi-sub002/internal/latent"
	"github.com/justinTNT/tsnotfyi-sub002/internal/log"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer"
	"github.com/justinTNT/tsnotfyi-sub002/internal/mixer/decode"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session/registry"
	"github.com/justinTNT/tsnotfyi-sub002/internal/store"
	"github.com/justinTNT/tsnotfyi-sub002/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled daemon.
type App struct {
	cfg     config.AppConfig
	holder  *config.Holder
	version string
	logger  zerolog.Logger
	ring    *log.Ring

	catalogDB  *catalog.Store
	stateStore *store.StateStore
	index      atomic.Pointer[feature.Index]
	latent     *latent.Client
	registry   *registry.Registry
	server     *http.Server
}

// New loads the catalog, builds the index, and assembles every subsystem.
// Nothing long-lived starts until Run.
func New(holder *config.Holder, version string) (*App, error) {
	cfg := holder.Current()

	ring := log.NewRing(512)
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  io.MultiWriter(os.Stdout, ring),
		Version: version,
	})

	app := &App{
		cfg:     cfg,
		holder:  holder,
		version: version,
		logger:  log.WithComponent("daemon"),
		ring:    ring,
	}

	catalogDB, err := catalog.Open(cfg.Catalog.DBPath)
	if err != nil {
		return nil, err
	}
	app.catalogDB = catalogDB

	loadCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	tracks, err := catalogDB.LoadTracks(loadCtx)
	if err != nil {
		_ = catalogDB.Close()
		return nil, err
	}
	app.index.Store(feature.Build(tracks, 1))
	app.logger.Info().Int("tracks", len(tracks)).Msg("catalog loaded")

	if cfg.Catalog.StatePath != "" {
		st, err := store.Open(cfg.Catalog.StatePath)
		if err != nil {
			_ = catalogDB.Close()
			return nil, err
		}
		app.stateStore = st
	}

	app.latent = latent.New(cfg.Latent)

	exp := explorer.New(app.Index, app.latent, app.snapshotCache(), cfg.Explorer)

	reg, err := registry.New(registry.Deps{
		Settings: cfg.Session,
		NewMixer: func() mixer.Mixer {
			factory := decode.NewFFmpegFactory(cfg.Mixer.FFmpegPath, cfg.Mixer.SampleRate, cfg.Mixer.Channels)
			return mixer.NewCrossfader(cfg.Mixer, factory)
		},
		Explorer: exp,
		Index:    app.Index,
		Store:    app.stateStore,
	})
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.registry = reg

	srv := api.New(api.Deps{
		Settings: cfg.API,
		Registry: reg,
		Index:    app.Index,
		Store:    app.stateStore,
		Health:   app.healthManager(),
		LogRing:  ring,
	})
	app.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: /stream and /events are open-ended.
	}

	return app, nil
}

// Index returns the current feature index; the pointer swaps atomically on
// catalog reload.
func (a *App) Index() *feature.Index {
	return a.index.Load()
}

func (a *App) snapshotCache() cache.Cache {
	switch a.cfg.Cache.Backend {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		}, log.WithComponent("cache"))
		if err != nil {
			a.logger.Warn().Err(err).Msg("redis cache unavailable, using in-memory cache")
			return cache.NewMemoryCache(time.Minute)
		}
		return c
	case "none":
		return cache.NewNoOpCache()
	default:
		return cache.NewMemoryCache(time.Minute)
	}
}

func (a *App) healthManager() *health.Manager {
	hm := health.NewManager(a.version)
	hm.Register(health.NewFileChecker("catalog_db", a.cfg.Catalog.DBPath))
	hm.Register(&health.IndexChecker{Size: func() int { return a.Index().Len() }})
	if a.latent.Enabled() {
		hm.Register(&health.LatentChecker{Up: a.latent.Healthy})
	}
	return hm
}

// Run blocks until ctx is cancelled or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	if err := acquirePIDFile(a.cfg.PIDFile); err != nil {
		return err
	}
	defer releasePIDFile(a.cfg.PIDFile)

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        a.cfg.Telemetry.Enabled,
		ServiceName:    "tsnotfyi",
		ServiceVersion: a.version,
		ExporterType:   a.cfg.Telemetry.Exporter,
		Endpoint:       a.cfg.Telemetry.Endpoint,
		SamplingRate:   a.cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("telemetry init failed, continuing without tracing")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("listen", a.cfg.Listen).Str("version", a.version).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})

	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("config watcher unavailable")
		}
		g.Go(func() error { return a.reloadLoop(ctx) })
	}

	if a.cfg.Catalog.WatchReload {
		g.Go(func() error {
			err := catalog.Watch(ctx, a.cfg.Catalog.DBPath, a.reloadCatalog)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.latent.Enabled() {
		g.Go(func() error {
			err := a.latent.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	runErr := g.Wait()

	a.registry.Shutdown()
	_ = a.latent.Close()
	a.closeStores()
	if tel != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = tel.Shutdown(shutCtx)
		cancel()
	}
	a.logger.Info().Msg("daemon stopped")
	return runErr
}

// reloadLoop services SIGHUP and config-file changes. Only log level is
// hot-swappable; everything else needs a restart and says so.
func (a *App) reloadLoop(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	updates := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(updates)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.logger.Info().Msg("reload signal received")
			if err := a.holder.Reload(context.Background()); err != nil {
				a.logger.Warn().Err(err).Msg("config reload failed")
			}
		case fresh := <-updates:
			a.applyConfig(fresh)
		}
	}
}

func (a *App) applyConfig(fresh config.AppConfig) {
	if fresh.LogLevel != a.cfg.LogLevel {
		if level, err := zerolog.ParseLevel(fresh.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
			a.logger.Info().Str("level", fresh.LogLevel).Msg("log level changed")
		}
	}
	if fresh.Listen != a.cfg.Listen {
		a.logger.Warn().Str("pending", fresh.Listen).Msg("listen address change requires restart")
	}
	s := fresh.Session
	old := a.cfg.Session
	if s.IdleTTL != old.IdleTTL || s.SweepInterval != old.SweepInterval || s.PoolSize != old.PoolSize {
		a.registry.UpdateSettings(s)
		a.logger.Info().
			Dur("idle_ttl", s.IdleTTL).
			Dur("sweep_interval", s.SweepInterval).
			Int("pool_size", s.PoolSize).
			Msg("session sweep and pool settings updated")
	}
	a.cfg.LogLevel = fresh.LogLevel
	a.cfg.Session = fresh.Session
}

// reloadCatalog rebuilds the feature index after the analysis pipeline
// replaces the database file. Sessions pick up the new epoch on their next
// index access; in-flight snapshots keep the old one.
func (a *App) reloadCatalog() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tracks, err := a.catalogDB.LoadTracks(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("catalog reload failed, keeping previous index")
		return
	}
	epoch := a.Index().Epoch() + 1
	a.index.Store(feature.Build(tracks, epoch))
	a.logger.Info().Int("tracks", len(tracks)).Uint64("epoch", epoch).Msg("catalog reloaded")
}

func (a *App) closeStores() {
	if a.catalogDB != nil {
		_ = a.catalogDB.Close()
	}
	if a.stateStore != nil {
		_ = a.stateStore.Close()
	}
}
