package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/cors"
	"github.com/urfave/cli/v3"

	"github.com/rpattn/matters/internal/boundarycache"
	"github.com/rpattn/matters/internal/config"
	"github.com/rpattn/matters/internal/cycletime"
	"github.com/rpattn/matters/internal/db"
	"github.com/rpattn/matters/internal/httpapi"
	"github.com/rpattn/matters/internal/logging"
	"github.com/rpattn/matters/internal/query"
	"github.com/rpattn/matters/internal/repository"
	"github.com/rpattn/matters/internal/service"
)

func (a *app) cmdServe() *cli.Command {
	var migrateFirst bool

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "migrate",
				Usage:       "Apply pending migrations before serving",
				Sources:     cli.EnvVars("MATTERS_MIGRATE_ON_START"),
				Destination: &migrateFirst,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if migrateFirst {
				if err := db.RunMigrations(a.cfg.Database); err != nil {
					return err
				}
			}
			return serve(ctx, a.cfg)
		},
	}
}

func newBoundaryCache(ctx context.Context, cfg config.RedisConfig) (boundarycache.Cache, error) {
	if cfg.URL == "" {
		logging.Default().Info("redis url not set, boundary cache disabled")
		return boundarycache.Noop{}, nil
	}
	return boundarycache.NewRedisCache(ctx, cfg.URL, cfg.TTL)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	cache, err := newBoundaryCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Error("failed to close boundary cache", logging.ErrAttr(err))
		}
	}()

	matterService := service.NewMatterService(
		repository.NewMatterRepository(conn),
		repository.NewFieldRepository(conn.Pool),
		service.WithCompiler(query.NewCompiler(
			query.WithPageSizes(cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize),
			query.WithLogger(logger),
		)),
		service.WithEngine(cycletime.NewEngine(cfg.SLAThreshold, cycletime.WithLogger(logger))),
		service.WithBoundaryCache(cache),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(httpapi.NewRouter(matterService, cfg.DefaultAccountID)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.Addr,
			"sla_threshold", cfg.SLAThreshold.String(),
			"version", version,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- goerr.Wrap(err, "failed to start server", goerr.V("addr", cfg.Server.Addr))
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "server forced to shutdown")
	}

	logger.Info("server exited")
	return nil
}
