package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Tenants   TenantsConfig   `yaml:"tenants" mapstructure:"tenants"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BlobConfig configures blob storage.
type BlobConfig struct {
	// Driver selects "gcs" or "local".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Bucket is the GCS bucket for the gcs driver.
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	// Root is the base directory for the local driver.
	Root string `yaml:"root" mapstructure:"root"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures enrichment behavior.
type PipelineConfig struct {
	// MaxAttempts is the per-record enrichment attempt ceiling. Records
	// at or over the ceiling are excluded from further passes.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// MaxBlobBytes is the size ceiling; larger blobs fail fast with no AI call.
	MaxBlobBytes int64 `yaml:"max_blob_bytes" mapstructure:"max_blob_bytes"`
	// DocsPerSecond paces AI calls to respect the provider throughput ceiling.
	DocsPerSecond float64 `yaml:"docs_per_second" mapstructure:"docs_per_second"`
	// FilenameCeiling caps derived filename length.
	FilenameCeiling int `yaml:"filename_ceiling" mapstructure:"filename_ceiling"`
}

// LockConfig configures the tenant lease lock.
type LockConfig struct {
	WaitSecs int `yaml:"wait_secs" mapstructure:"wait_secs"`
	TTLSecs  int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TenantsConfig locates the tenant registry.
type TenantsConfig struct {
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
}

// BatchConfig configures multi-tenant processing.
type BatchConfig struct {
	MaxConcurrentTenants int `yaml:"max_concurrent_tenants" mapstructure:"max_concurrent_tenants"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docflow.db")
	v.SetDefault("blob.driver", "gcs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.max_blob_bytes", 20*1024*1024)
	v.SetDefault("pipeline.docs_per_second", 0.5)
	v.SetDefault("pipeline.filename_ceiling", 120)
	v.SetDefault("lock.wait_secs", 30)
	v.SetDefault("lock.ttl_secs", 120)
	v.SetDefault("tenants.registry_path", "tenants.yaml")
	v.SetDefault("batch.max_concurrent_tenants", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
