package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loiht2/ctr-aiops/backend/logger"
)

// Storage backends
const (
	StorageLocal = "local"
	StorageMinIO = "minio"
)

// Config holds all configuration for the backend
type Config struct {
	Port string `yaml:"port"`

	// Object storage layout. Every key prefix below is relative to the
	// storage root (local) or the bucket (minio).
	StorageBackend     string `yaml:"storage_backend"`
	StorageRoot        string `yaml:"storage_root"`
	UploadDir          string `yaml:"upload_dir"`
	ModelDir           string `yaml:"model_dir"`
	ResultsDir         string `yaml:"results_dir"`
	PDFDir             string `yaml:"pdf_dir"`
	FeatureMappingPath string `yaml:"feature_mapping_path"`
	// PDFFontPath is a UTF-8 TrueType font used for report PDFs. Without
	// it the core Helvetica font is used and non Latin-1 text is replaced.
	PDFFontPath        string `yaml:"pdf_font_path"`

	MinIO MinIOConfig `yaml:"minio"`

	// Job persistence. Empty keeps runs in memory only.
	DatabaseURL string `yaml:"database_url"`

	// Report generation
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Training and streaming cadence
	EpochDelay             time.Duration `yaml:"epoch_delay"`
	TrainingStreamInterval time.Duration `yaml:"ws_training_interval"`
	PerformanceInterval    time.Duration `yaml:"ws_performance_interval"`
	AlertsInterval         time.Duration `yaml:"ws_alerts_interval"`
	MonitorInterval        time.Duration `yaml:"monitor_interval"`
	AccuracyThreshold      float64       `yaml:"accuracy_alert_threshold"`
}

// MinIOConfig holds MinIO connection settings. When SecretNamespace is set the
// credentials are read from the "minio-secret" secret in that namespace.
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	SecretNamespace string `yaml:"secret_namespace"`
	Kubeconfig      string `yaml:"kubeconfig"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               "8000",
		StorageBackend:     StorageLocal,
		StorageRoot:        ".",
		UploadDir:          "uploaded_files",
		ModelDir:           "models",
		ResultsDir:         "training_results",
		PDFDir:             "pdf_reports",
		FeatureMappingPath: "sample/feature_name_mapping.csv",
		MinIO: MinIOConfig{
			Bucket: "ctr-aiops",
		},
		OpenAIModel:            "gpt-4",
		LogLevel:               "info",
		LogFormat:              "json",
		EpochDelay:             100 * time.Millisecond,
		TrainingStreamInterval: 2 * time.Second,
		PerformanceInterval:    10 * time.Second,
		AlertsInterval:         30 * time.Second,
		MonitorInterval:        time.Minute,
		AccuracyThreshold:      0.7,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, an optional .env file and the process environment, in that
// order of increasing precedence.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", c.StorageBackend))
	c.StorageRoot = getEnv("STORAGE_ROOT", c.StorageRoot)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.ModelDir = getEnv("MODEL_DIR", c.ModelDir)
	c.ResultsDir = getEnv("RESULTS_DIR", c.ResultsDir)
	c.PDFDir = getEnv("PDF_DIR", c.PDFDir)
	c.FeatureMappingPath = getEnv("FEATURE_MAPPING_PATH", c.FeatureMappingPath)
	c.PDFFontPath = getEnv("PDF_FONT_PATH", c.PDFFontPath)

	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.Bucket = getEnv("MINIO_BUCKET", c.MinIO.Bucket)
	c.MinIO.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.MinIO.UseSSL)
	c.MinIO.SecretNamespace = getEnv("MINIO_SECRET_NAMESPACE", c.MinIO.SecretNamespace)
	c.MinIO.Kubeconfig = getEnv("KUBECONFIG", c.MinIO.Kubeconfig)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.EpochDelay = getEnvAsDuration("EPOCH_DELAY", c.EpochDelay)
	c.TrainingStreamInterval = getEnvAsDuration("WS_TRAINING_INTERVAL", c.TrainingStreamInterval)
	c.PerformanceInterval = getEnvAsDuration("WS_PERFORMANCE_INTERVAL", c.PerformanceInterval)
	c.AlertsInterval = getEnvAsDuration("WS_ALERTS_INTERVAL", c.AlertsInterval)
	c.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL", c.MonitorInterval)
	c.AccuracyThreshold = getEnvAsFloat("ACCURACY_ALERT_THRESHOLD", c.AccuracyThreshold)
}

// Validate checks settings that would otherwise fail later at start-up.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageLocal:
	case StorageMinIO:
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("MINIO_BUCKET is required for the minio storage backend")
		}
		if c.MinIO.SecretNamespace == "" && c.MinIO.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT or MINIO_SECRET_NAMESPACE is required for the minio storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.TrainingStreamInterval <= 0 || c.PerformanceInterval <= 0 || c.AlertsInterval <= 0 {
		return fmt.Errorf("websocket intervals must be positive")
	}
	if c.EpochDelay < 0 {
		return fmt.Errorf("EPOCH_DELAY must not be negative")
	}
	return nil
}

// Address returns the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + c.Port
}

// OpenDatabase opens the job database named by DatabaseURL. It returns nil
// without error when no database is configured. A "sqlite://" prefix selects
// sqlite; anything else is treated as a postgres DSN.
func (c *Config) OpenDatabase() (*gorm.DB, error) {
	if c.DatabaseURL == "" {
		return nil, nil
	}

	gormCfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	if path, ok := strings.CutPrefix(c.DatabaseURL, "sqlite://"); ok {
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	} else {
		gormCfg.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(c.DatabaseURL), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("Database initialized successfully")
	return db, nil
}

// Migrate creates or updates the training_runs table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TrainingRun{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// CloseDatabase closes the pool behind db. A nil db is a no-op.
func CloseDatabase(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		logger.Warnf("Ignoring invalid boolean %s=%q", key, value)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logger.Warnf("Ignoring invalid number %s=%q", key, value)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logger.Warnf("Ignoring invalid duration %s=%q", key, value)
	}
	return defaultValue
}
