package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the server and CLI
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Downsample DownsampleConfig `yaml:"downsample"`
	Processing ProcessingConfig `yaml:"processing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig contains source and processed store settings
type StorageConfig struct {
	DataDir          string `yaml:"data_dir"`
	ProcessedDir     string `yaml:"processed_dir"`
	MaxMemoryMB      int64  `yaml:"max_memory_mb"`
	MaxStorageGB     int64  `yaml:"max_storage_gb"`
	CompressionLevel int    `yaml:"compression_level"`
	CacheEntries     int    `yaml:"cache_entries"`
}

// DownsampleConfig contains hierarchy parameters
type DownsampleConfig struct {
	IntervalCount    int     `yaml:"interval_count"`
	StepMultiplier   int     `yaml:"step_multiplier"`
	RawFallbackRatio float64 `yaml:"raw_fallback_ratio"`
	MaxRawPoints     int     `yaml:"max_raw_points"`
}

// ProcessingConfig contains batch processing settings
type ProcessingConfig struct {
	Workers      int           `yaml:"workers"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	MaxRetries   int           `yaml:"max_retries"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         DefaultAddr,
			ReadTimeout:  QueryTimeout,
			WriteTimeout: DetectTimeout,
		},
		Storage: StorageConfig{
			DataDir:          DefaultDataDir,
			ProcessedDir:     DefaultProcessedDir,
			MaxMemoryMB:      DefaultMaxMemoryMB,
			MaxStorageGB:     DefaultMaxStorageGB,
			CompressionLevel: DefaultCompression,
			CacheEntries:     DefaultCacheEntries,
		},
		Downsample: DownsampleConfig{
			IntervalCount:    DefaultIntervalCount,
			StepMultiplier:   DefaultStepMultiplier,
			RawFallbackRatio: DefaultRawFallbackRatio,
			MaxRawPoints:     DefaultMaxRawPoints,
		},
		Processing: ProcessingConfig{
			Workers:      DefaultWorkers,
			ScanInterval: DefaultScanInterval,
			MaxRetries:   DefaultMaxRetries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and AUVIEWER_* environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("AUVIEWER_ADDR", cfg.Server.Addr)
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = ":" + port
	}

	cfg.Storage.DataDir = getEnv("AUVIEWER_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.ProcessedDir = getEnv("AUVIEWER_PROCESSED_DIR", cfg.Storage.ProcessedDir)
	cfg.Storage.MaxMemoryMB = getEnvInt64("AUVIEWER_MAX_MEMORY_MB", cfg.Storage.MaxMemoryMB)
	cfg.Storage.MaxStorageGB = getEnvInt64("AUVIEWER_MAX_STORAGE_GB", cfg.Storage.MaxStorageGB)
	cfg.Storage.CompressionLevel = getEnvInt("AUVIEWER_COMPRESSION_LEVEL", cfg.Storage.CompressionLevel)
	cfg.Storage.CacheEntries = getEnvInt("AUVIEWER_CACHE_ENTRIES", cfg.Storage.CacheEntries)

	cfg.Downsample.IntervalCount = getEnvInt("AUVIEWER_INTERVAL_COUNT", cfg.Downsample.IntervalCount)
	cfg.Downsample.StepMultiplier = getEnvInt("AUVIEWER_STEP_MULTIPLIER", cfg.Downsample.StepMultiplier)
	cfg.Downsample.RawFallbackRatio = getEnvFloat("AUVIEWER_RAW_FALLBACK_RATIO", cfg.Downsample.RawFallbackRatio)
	cfg.Downsample.MaxRawPoints = getEnvInt("AUVIEWER_MAX_RAW_POINTS", cfg.Downsample.MaxRawPoints)

	cfg.Processing.Workers = getEnvInt("AUVIEWER_WORKERS", cfg.Processing.Workers)
	cfg.Processing.ScanInterval = getEnvDuration("AUVIEWER_SCAN_INTERVAL", cfg.Processing.ScanInterval)
	cfg.Processing.MaxRetries = getEnvInt("AUVIEWER_MAX_RETRIES", cfg.Processing.MaxRetries)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("AUVIEWER_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("AUVIEWER_LOG_FILE", cfg.Logging.File)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Storage.DataDir == "" || c.Storage.ProcessedDir == "" {
		return fmt.Errorf("data and processed directories are required")
	}
	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4, got %d", c.Storage.CompressionLevel)
	}
	if c.Downsample.IntervalCount < 1 {
		return fmt.Errorf("interval count must be positive, got %d", c.Downsample.IntervalCount)
	}
	if c.Downsample.StepMultiplier < 2 {
		return fmt.Errorf("step multiplier must be at least 2, got %d", c.Downsample.StepMultiplier)
	}
	if c.Downsample.RawFallbackRatio < 1 {
		return fmt.Errorf("raw fallback ratio must be at least 1, got %g", c.Downsample.RawFallbackRatio)
	}
	if c.Downsample.MaxRawPoints < 1 {
		return fmt.Errorf("max raw points must be positive, got %d", c.Downsample.MaxRawPoints)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Processing.Workers)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be 'json' or 'console'")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
