// Package cli builds the syncagent command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"eventnet/internal/api"
	"eventnet/internal/client"
	"eventnet/internal/config"
	"eventnet/internal/export"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"
	"eventnet/internal/notification"
	"eventnet/internal/queue"
	"eventnet/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X eventnet/internal/cli.Version=...".
var Version = "dev"

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "syncagent",
		Short:         "Offline-first sync agent for the event backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath(), "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildQueueCommand())
	rootCmd.AddCommand(buildNotificationsCommand())
	rootCmd.AddCommand(buildVersionCommand())

	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.App.Version == "" {
		cfg.App.Version = Version
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent with its control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func runAgent(parent context.Context) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	log := logging.Component(logger, "main")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := client.New(ctx, cfg, client.Deps{}, logger)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}
	defer func() {
		if err := agent.Close(); err != nil {
			log.Error().Err(err).Msg("close agent")
		}
	}()

	startMetrics(ctx, cfg, log)

	if err := agent.Start(ctx); err != nil {
		return err
	}
	defer agent.Stop()

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, agent, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	}

	log.Info().Str("backend", cfg.Backend.BaseURL).Str("storage", cfg.Storage.Driver).Msg("sync agent started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// offlineStore opens persistence without starting any background work, for
// the inspection commands.
type offlineStore struct {
	cfg    *config.Config
	logger *zerolog.Logger
	kv     storage.KV
	redis  *redis.Client
	closer io.Closer
}

func openOffline(ctx context.Context) (*offlineStore, error) {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}
	s := &offlineStore{cfg: cfg, logger: logger, closer: closer}

	if cfg.Storage.Driver == "redis" {
		s.redis = storage.NewRedisClient(cfg.Redis)
		if err := storage.Ping(ctx, s.redis); err != nil {
			s.Close()
			return nil, err
		}
	}

	kv, err := storage.Open(ctx, cfg.Storage, cfg.Redis, s.redis, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s.kv = kv
	return s, nil
}

func (s *offlineStore) queue(ctx context.Context) (*queue.Queue, error) {
	q := queue.New(s.kv, nil, nil, s.cfg.Queue, s.logger)
	if err := q.Load(ctx); err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return q, nil
}

func (s *offlineStore) Close() {
	if s.kv != nil {
		_ = s.kv.Close()
	}
	_ = storage.CloseRedis(s.redis)
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

func buildQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or reset the offline queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending and dead-lettered actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openOffline(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			q, err := store.queue(cmd.Context())
			if err != nil {
				return err
			}
			return printQueue(cmd.OutOrStdout(), q)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openOffline(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			q, err := store.queue(cmd.Context())
			if err != nil {
				return err
			}
			n := q.Len()
			q.Clear(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d action(s)\n", n)
			return nil
		},
	})

	return cmd
}

func printQueue(out io.Writer, q *queue.Queue) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tID\tMETHOD\tTARGET\tENQUEUED\tATTEMPTS\tLAST ERROR")
	for _, a := range q.State().Queue {
		fmt.Fprintf(w, "pending\t%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Payload.Method, a.Payload.Target, a.EnqueuedAt.Format(time.RFC3339), a.Attempts, a.LastError)
	}
	for _, a := range q.DeadLetters() {
		fmt.Fprintf(w, "dead\t%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Payload.Method, a.Payload.Target, a.EnqueuedAt.Format(time.RFC3339), a.Attempts, a.LastError)
	}
	return w.Flush()
}

func buildNotificationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Work with stored notifications",
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write notifications and the offline queue to an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openOffline(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			notes := notification.NewStore(store.kv, store.cfg.Notifications, store.logger)
			if err := notes.Load(ctx); err != nil {
				return fmt.Errorf("load notifications: %w", err)
			}
			q, err := store.queue(ctx)
			if err != nil {
				return err
			}

			data := export.Data{
				Notifications: notes.List(),
				Queue:         q.State().Queue,
				DeadLetter:    q.DeadLetters(),
				GeneratedAt:   time.Now(),
			}
			if err := export.SaveFile(output, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d notification(s) to %s\n", len(data.Notifications), output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "notifications.xlsx", "output xlsx file")
	cmd.AddCommand(exportCmd)

	return cmd
}

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
