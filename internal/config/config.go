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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Journal  JournalConfig  `yaml:"journal" mapstructure:"journal"`
	Artifact ArtifactConfig `yaml:"artifact" mapstructure:"artifact"`
	Lineage  LineageConfig  `yaml:"lineage" mapstructure:"lineage"`
	Publish  PublishConfig  `yaml:"publish" mapstructure:"publish"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig holds record store endpoint and credentials.
type StoreConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Token          string  `yaml:"token" mapstructure:"token"`
	CollectionPath string  `yaml:"collection_path" mapstructure:"collection_path"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// JournalConfig configures the local record mirror.
type JournalConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ArtifactConfig configures local artifact placement.
type ArtifactConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
}

// LineageConfig configures optional lineage inputs.
type LineageConfig struct {
	ScriptPath      string `yaml:"script_path" mapstructure:"script_path"`
	DatasetRecordID string `yaml:"dataset_record_id" mapstructure:"dataset_record_id"`
}

// PublishConfig configures publish retry behavior.
type PublishConfig struct {
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	UploadMaxAttempts int `yaml:"upload_max_attempts" mapstructure:"upload_max_attempts"`
	InitialBackoffMS  int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ServerConfig configures the lineage query server.
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
	v.SetEnvPrefix("CKPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.base_url", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.collection_path", "/checkpoints")
	v.SetDefault("store.rate_limit", 5.0)
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.path", "ckpt-journal.db")
	v.SetDefault("journal.database_url", "")
	v.SetDefault("lineage.script_path", "")
	v.SetDefault("lineage.dataset_record_id", "")
	v.SetDefault("artifact.base_dir", "checkpoints")
	v.SetDefault("publish.max_attempts", 3)
	v.SetDefault("publish.upload_max_attempts", 3)
	v.SetDefault("publish.initial_backoff_ms", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
