package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"checkit/api/internal/app"
	"checkit/api/internal/cache"
	"checkit/api/internal/checkit"
	"checkit/api/internal/config"
	"checkit/api/internal/search"
	"checkit/api/internal/session"
	"checkit/api/internal/store"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "checkit-api",
		Short: "Review gateway for vocabulary change publications",
		Long: `checkit-api sits between reviewers and the upstream review service.

It caches vocabulary changes per publication, applies review transitions
optimistically and reverts them when the upstream refuses.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (defaults to $CHECKIT_CONFIG_FILE)")

	serveCommand := serveCmd(&configFile)
	rootCmd.AddCommand(serveCommand)
	rootCmd.AddCommand(migrateCmd(&configFile))
	rootCmd.RunE = serveCommand.RunE
	rootCmd.Flags().AddFlagSet(serveCommand.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configFile string) (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func serveCmd(configFile *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides API_ADDR)")
	return cmd
}

func migrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply review log migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL must be set to run migrations")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions())
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			logger.WithField("applied", applied).Info("migrations complete")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg)

	upstream, err := checkit.New(checkit.Options{
		BaseURL: cfg.UpstreamURL,
		Timeout: cfg.UpstreamTimeout,
		RPS:     cfg.UpstreamRPS,
		Burst:   cfg.UpstreamBurst,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	opts := app.Options{
		Remote:  upstream,
		Cache:   cache.New(),
		Metrics: app.NewMetrics(),
		Logger:  logger,
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.WithField("applied", applied).Info("review log on postgres")
		opts.Events = store.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, review log kept in memory")
		opts.Events = store.NewMemoryStore()
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		users, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer users.Close()
		logger.Info("caching user profiles in redis")
		opts.Users = users
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, search.NewLocal(), logger)
	defer searchService.Close()
	opts.Search = searchService

	service := app.New(opts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("checkit API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), app.DrainTimeout)
	defer drainCancel()
	if err := service.Drain(drainCtx); err != nil {
		logger.WithError(err).Warn("transitions still in flight at exit")
	}
	return nil
}
