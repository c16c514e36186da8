package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shohag/apilogger/internal/api"
	"github.com/shohag/apilogger/internal/config"
	"github.com/shohag/apilogger/internal/metrics"
	"github.com/shohag/apilogger/internal/models"
	"github.com/shohag/apilogger/internal/poller"
	"github.com/shohag/apilogger/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "apilogger",
		Short: "apilogger polls a public API and keeps every attempt and payload",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(pollCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(logsCmd(&configPath))
	rootCmd.AddCommand(payloadCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll scheduler and the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			stores, cleanup, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			m := metrics.New()

			// A nil *Poller must not reach the server as a non-nil PollStatus.
			var (
				status    api.PollStatus
				scheduler *poller.Scheduler
			)
			if cfg.Poller.Enabled {
				p := newPoller(cfg.Poller, stores, m, log)
				scheduler = poller.NewScheduler(cfg.Poller, p, m, log)
				status = p
			}

			server := api.NewServer(cfg.Server, cfg.Auth, stores, status, m, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			if scheduler != nil {
				scheduler.Start(gctx)
			}

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Bool("poller", cfg.Poller.Enabled).
				Str("url", cfg.Poller.URL).
				Dur("interval", cfg.Poller.Interval).
				Str("storage", cfg.Storage.Driver).
				Str("payloads", cfg.Payloads.Backend).
				Msg("apilogger is running")

			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutting down...")

				if err := server.Shutdown(10 * time.Second); err != nil {
					log.Error().Err(err).Msg("server shutdown error")
				}
				if scheduler != nil {
					scheduler.Stop()
				}
				return nil
			})

			err = g.Wait()
			log.Info().Msg("apilogger stopped")
			return err
		},
	}
}

func pollCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Poll the API once and record the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Poller.URL == "" {
				return fmt.Errorf("poller.url is required")
			}

			log := setupLogger(cfg.Logging)
			stores, cleanup, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if cfg.Poller.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Poller.Timeout)
				defer cancel()
			}

			res := newPoller(cfg.Poller, stores, metrics.New(), log).Poll(ctx)

			out, err := json.MarshalIndent(res.Summary(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			fmt.Println(string(out))
			return res.Err
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the attempt table and payload container if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)
			_, cleanup, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			cleanup()

			log.Info().Msg("stores are ready")
			return nil
		},
	}
}

func logsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List attempt records between two days (inclusive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			today := models.BucketKey(time.Now())
			if from == "" {
				from = today
			}
			if to == "" {
				to = from
			}

			fromBucket, toBucket, err := models.BucketRange(from, to)
			if err != nil {
				return err
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)
			stores, cleanup, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			n := 0
			for rec, err := range stores.Attempts.QueryRange(cmd.Context(), fromBucket, toBucket) {
				if err != nil {
					return fmt.Errorf("failed to list attempts: %w", err)
				}
				status := "fail"
				if rec.Success {
					status = "ok"
				}
				fmt.Printf("  %s  %s  %-4s  %3d  %s\n",
					rec.Timestamp.Format(time.RFC3339), rec.RowKey, status, rec.StatusCode, rec.PayloadID)
				n++
			}
			if n == 0 {
				fmt.Println("No attempts found.")
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", "first day (YYYYMMDD or YYYY-MM-DD), default today")
	cmd.Flags().String("to", "", "last day, inclusive, default --from")
	return cmd
}

func payloadCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "payload <id>",
		Short: "Print a stored payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)
			stores, cleanup, err := openStores(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			rc, err := stores.Payloads.Get(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("payload %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to get payload: %w", err)
			}
			defer rc.Close()

			_, err = io.Copy(os.Stdout, rc)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("apilogger v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newPoller(cfg config.PollerConfig, stores api.Stores, m *metrics.Metrics, log zerolog.Logger) *poller.Poller {
	fetcher := poller.NewFetcher(poller.NewHTTPClient(cfg.Timeout), cfg.URL)
	return poller.New(fetcher, stores.Attempts, stores.Payloads, m, log.With().Str("component", "poller").Logger())
}

// openStores builds the single set of stores shared by the poller and the
// query API and makes sure both exist.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (api.Stores, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts, err := setupAttemptLog(ctx, cfg.Storage, log)
	if err != nil {
		return api.Stores{}, nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	if err := attempts.EnsureExists(ctx); err != nil {
		attempts.Close()
		return api.Stores{}, nil, fmt.Errorf("failed to create attempt table: %w", err)
	}

	payloads, err := setupPayloadStore(cfg.Payloads, log)
	if err != nil {
		attempts.Close()
		return api.Stores{}, nil, fmt.Errorf("failed to setup payload store: %w", err)
	}
	if err := payloads.EnsureExists(ctx); err != nil {
		attempts.Close()
		return api.Stores{}, nil, fmt.Errorf("failed to create payload container: %w", err)
	}

	return api.Stores{Attempts: attempts, Payloads: payloads}, func() { attempts.Close() }, nil
}

func setupAttemptLog(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.AttemptLog, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Str("table", cfg.Table).Msg("using SQLite attempt log")
		return storage.NewSQLite(cfg.SQLite.Path, cfg.Table)
	case "postgres":
		log.Info().Str("table", cfg.Table).Msg("using PostgreSQL attempt log")
		return storage.NewPostgres(ctx, cfg.Postgres.URL, cfg.Table)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupPayloadStore(cfg config.PayloadsConfig, log zerolog.Logger) (storage.PayloadStore, error) {
	switch cfg.Backend {
	case "local":
		log.Info().Str("root", cfg.Local.Root).Str("container", cfg.Container).Msg("using local payload store")
		return storage.NewLocalPayloadStore(cfg.Local.Root, cfg.Container)
	case "minio":
		log.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.Container).Msg("using MinIO payload store")
		return storage.NewMinIOPayloadStore(storage.MinIOOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
			Bucket:    cfg.Container,
		})
	default:
		return nil, fmt.Errorf("unsupported payload backend: %s", cfg.Backend)
	}
}
