// Command authcored serves login, refresh, logout and session endpoints and
// guards a small set of example resources with the authorization engine.
//
// Run against real infrastructure:
//
//	DATABASE_URL=postgres://... REDIS_ADDRS=localhost:6379 JWT_SECRET=... authcored
//
// or self-contained with seeded users:
//
//	DEMO=true JWT_SECRET=0123456789abcdef0123456789abcdef authcored
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	authcore "github.com/nur2097/template-project-sub000"
	"github.com/nur2097/template-project-sub000/config"
	"github.com/nur2097/template-project-sub000/logging"
	"github.com/nur2097/template-project-sub000/middleware"
	"github.com/nur2097/template-project-sub000/policy"
	"github.com/nur2097/template-project-sub000/store"
	"github.com/nur2097/template-project-sub000/store/memory"
	"github.com/nur2097/template-project-sub000/store/postgres"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		boot := logging.New(logging.Config{})
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(logging.Config{Env: settings.App.Env, Level: settings.App.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, log); err != nil {
		log.Fatal().Err(err).Msg("authcored stopped")
	}
}

func run(ctx context.Context, settings *config.Settings, log zerolog.Logger) error {
	var (
		rdb   redis.UniversalClient
		creds store.Store
	)

	if settings.App.Demo {
		mr, err := miniredis.Run()
		if err != nil {
			return err
		}
		defer mr.Close()
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		defer func() { _ = rdb.Close() }()

		mem := memory.New()
		if err := seedDemo(mem, settings.EngineConfig().Password); err != nil {
			return err
		}
		creds = mem
		log.Warn().Str("redis", mr.Addr()).Msg("demo mode: in-process redis and seeded memory store")

		engine, reg, err := buildEngine(ctx, settings, log, rdb, creds)
		if err != nil {
			return err
		}
		defer engine.Close()
		return serve(ctx, settings, log, engine, reg)
	}

	pg, err := postgres.Open(settings.DB.URL)
	if err != nil {
		return err
	}
	defer func() { _ = pg.Close() }()
	if err := pg.Ping(ctx); err != nil {
		return err
	}
	if settings.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}
	creds = pg

	rdb = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    settings.Redis.Addrs,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	engine, reg, err := buildEngine(ctx, settings, log, rdb, creds)
	if err != nil {
		return err
	}
	defer engine.Close()

	// The cache may have restarted empty while revocations are still live.
	if n, err := engine.RehydrateBlacklist(ctx); err != nil {
		log.Warn().Err(err).Msg("blacklist rehydrate failed")
	} else {
		log.Info().Int("entries", n).Msg("blacklist rehydrated")
	}
	return serve(ctx, settings, log, engine, reg)
}

func buildEngine(ctx context.Context, settings *config.Settings, log zerolog.Logger, rdb redis.UniversalClient, creds store.Store) (*authcore.Engine, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	enforcer, err := policy.LoadCasbinEnforcer(ctx, creds)
	if err != nil {
		return nil, nil, err
	}

	engine, err := authcore.New().
		WithConfig(settings.EngineConfig()).
		WithRedis(rdb).
		WithStore(creds).
		WithRoutes(routeTable()).
		WithEnforcer(enforcer).
		WithLogger(log).
		WithMetricsRegisterer(reg).
		WithAuditSink(authcore.NewLogSink(log)).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, reg, nil
}

func serve(ctx context.Context, settings *config.Settings, log zerolog.Logger, engine *authcore.Engine, reg *prometheus.Registry) error {
	engine.StartJanitor(settings.Janitor.Interval)

	mux := http.NewServeMux()
	registerHandlers(mux, engine, log)
	mux.Handle("GET "+settings.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    settings.HTTP.Addr,
		Handler: middleware.RequestMetadata(middleware.MetadataOptions{})(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.HTTP.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
