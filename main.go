package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/loiht2/ctr-aiops/backend/config"
	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/handlers"
	"github.com/loiht2/ctr-aiops/backend/k8s"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/middleware"
	"github.com/loiht2/ctr-aiops/backend/monitor"
	"github.com/loiht2/ctr-aiops/backend/pdf"
	"github.com/loiht2/ctr-aiops/backend/report"
	"github.com/loiht2/ctr-aiops/backend/repository"
	"github.com/loiht2/ctr-aiops/backend/storage"
	"github.com/loiht2/ctr-aiops/backend/training"
)

const shutdownTimeout = 10 * time.Second

var envFile string

var rootCmd = &cobra.Command{
	Use:          "ctr-aiops",
	Short:        "CTR AIOps backend",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the training_runs table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		logger.Initialize(cfg.LogLevel, cfg.LogFormat)
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		// OpenDatabase migrates before returning
		db, err := cfg.OpenDatabase()
		if err != nil {
			return err
		}
		config.CloseDatabase(db)
		logger.Info("Migration completed")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger.Initialize(cfg.LogLevel, cfg.LogFormat)
	logger.Infof("Starting %s %s", handlers.ServiceName, handlers.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	db, err := cfg.OpenDatabase()
	if err != nil {
		return err
	}
	defer config.CloseDatabase(db)

	var jobs repository.JobStore
	if db != nil {
		jobs = repository.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, training runs are kept in memory only")
		jobs = repository.NewMemoryStore()
	}

	datasets, err := dataset.NewStore(objects, cfg.UploadDir, cfg.FeatureMappingPath)
	if err != nil {
		return err
	}

	registry := training.NewRegistry(datasets, objects, jobs, training.Options{
		ModelDir:   cfg.ModelDir,
		ResultsDir: cfg.ResultsDir,
		EpochDelay: cfg.EpochDelay,
	})
	if err := registry.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore training runs: %w", err)
	}

	var generator report.Generator
	if cfg.OpenAIAPIKey != "" {
		generator = report.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		logger.Infof("AI reports use model %s", cfg.OpenAIModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI reports use the built-in template")
	}

	renderer, err := pdf.NewRenderer(objects, cfg.PDFDir, cfg.PDFFontPath)
	if err != nil {
		return err
	}

	mon := monitor.NewMonitor(registry, cfg.AccuracyThreshold)
	jobMonitor := monitor.NewJobMonitor(mon, cfg.MonitorInterval)
	jobMonitor.Start()
	defer jobMonitor.Stop()

	handler := handlers.NewHandler(cfg, datasets, registry, report.NewService(generator), renderer, mon)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	// CORS must run first so preflight requests are answered
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	handler.Register(router)

	// WriteTimeout covers LLM report generation; WebSocket upgrades clear it
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			registry.Shutdown(context.Background())
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Training runs did not stop in time: %v", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// newObjectStore opens the configured storage backend
func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageMinIO:
		var (
			client *storage.MinIOClient
			err    error
		)
		if ns := cfg.MinIO.SecretNamespace; ns != "" {
			clientset, kerr := k8s.NewClientset(cfg.MinIO.Kubeconfig)
			if kerr != nil {
				return nil, kerr
			}
			client, err = storage.NewMinIOClientFromK8s(ctx, clientset, ns, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
		} else {
			client, err = storage.NewMinIOClient(storage.MinIOConfig{
				Endpoint:  cfg.MinIO.Endpoint,
				AccessKey: cfg.MinIO.AccessKey,
				SecretKey: cfg.MinIO.SecretKey,
				Bucket:    cfg.MinIO.Bucket,
				UseSSL:    cfg.MinIO.UseSSL,
			})
		}
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Infof("Using MinIO bucket %s", client.Bucket())
		return client, nil
	default:
		root, err := filepath.Abs(cfg.StorageRoot)
		if err != nil {
			return nil, fmt.Errorf("invalid storage root: %w", err)
		}
		logger.Infof("Using local storage under %s", root)
		return storage.NewLocalStore(root)
	}
}
