package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/handlers"
	"github.com/mobiledetail/backend/internal/logging"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/scheduler"
	"github.com/mobiledetail/backend/internal/store"
)

var (
	cfg *config.Config
	log zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "detailing-api",
		Short:         "Backend of the mobile detailing site",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
			}
			cfg = config.New()
			log = logging.New(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and scheduled jobs (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	sweepDelete    bool
	sweepOrphanCmd = &cobra.Command{
		Use:   "sweep-orphans",
		Short: "Report upload files no record references, optionally deleting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orphans.Sweep(cmd.Context(), sweepDelete)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup-metadata",
		Short: "Upload a snapshot of the image metadata to the backup bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			backup, err := a.backups.SnapshotMetadata(cmd.Context(), models.BackupTypeManual, "cli")
			if err != nil {
				return err
			}
			return printJSON(cmd, backup)
		},
	}

	importFrom string
	importTo   string
	importCmd  = &cobra.Command{
		Use:   "import-metadata",
		Short: "Copy all image records from one metadata backend to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			if importFrom == importTo {
				return fmt.Errorf("--from and --to must differ")
			}
			src, err := store.OpenBackend(importFrom, cfg, log)
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := store.OpenBackend(importTo, cfg, log)
			if err != nil {
				return err
			}
			defer dst.Close()

			n, err := store.Copy(cmd.Context(), dst, src)
			if err != nil {
				return err
			}
			log.Info().Int("records", n).Str("from", importFrom).Str("to", importTo).Msg("metadata imported")
			return nil
		},
	}
)

func init() {
	sweepOrphanCmd.Flags().BoolVar(&sweepDelete, "delete", false, "remove the orphaned files")
	importCmd.Flags().StringVar(&importFrom, "from", store.BackendJSON, "source backend (json|badger)")
	importCmd.Flags().StringVar(&importTo, "to", store.BackendBadger, "destination backend (json|badger)")

	rootCmd.AddCommand(serveCmd, sweepOrphanCmd, backupCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := a.schedule(sched); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("scheduler shutdown")
		}
	}()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = logging.NewGinWriter(log, zerolog.DebugLevel)
	gin.DefaultErrorWriter = logging.NewGinWriter(log, zerolog.ErrorLevel)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(a.router(sched)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second, // large multipart uploads
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("metadata_backend", cfg.MetadataBackend).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server exited")
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
