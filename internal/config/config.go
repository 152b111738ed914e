// Package config provides a typed, read-only view of process-wide
// configuration: filesystem roots, network timeouts, retry policy,
// per-market credentials, safety limits, and database connection
// settings. Values are sourced from environment variables (prefixed
// FILINGS_) with an optional YAML overlay, following viper's standard
// file-then-env precedence.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full process configuration.
type Config struct {
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Network     NetworkConfig     `yaml:"network" mapstructure:"network"`
	Retry       RetryPolicyConfig `yaml:"retry" mapstructure:"retry"`
	Acquisition AcquisitionConfig `yaml:"acquisition" mapstructure:"acquisition"`
	Safety      SafetyConfig      `yaml:"safety" mapstructure:"safety"`
	SEC         SECConfig         `yaml:"sec" mapstructure:"sec"`
	UKCH        UKCHConfig        `yaml:"uk_ch" mapstructure:"uk_ch"`
	ESEF        ESEFConfig        `yaml:"esef" mapstructure:"esef"`
	Library     LibraryConfig     `yaml:"library" mapstructure:"library"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// PathsConfig holds the filesystem layout roots (spec §6 filesystem contract).
type PathsConfig struct {
	Root            string `yaml:"root" mapstructure:"root"`
	EntitiesRoot    string `yaml:"entities_root" mapstructure:"entities_root"`
	TaxonomiesRoot  string `yaml:"taxonomies_root" mapstructure:"taxonomies_root"`
	TempDir         string `yaml:"temp_dir" mapstructure:"temp_dir"`
	LogDir          string `yaml:"log_dir" mapstructure:"log_dir"`
	CacheDir        string `yaml:"cache_dir" mapstructure:"cache_dir"`
	ManualDownloads string `yaml:"manual_downloads" mapstructure:"manual_downloads"`
	ManualProcessed string `yaml:"manual_processed" mapstructure:"manual_processed"`
}

// NetworkConfig holds connect/request/read timeouts.
type NetworkConfig struct {
	RequestTimeout int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	ConnectTimeout int `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	ReadTimeout    int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
}

// RetryPolicyConfig holds backoff parameters shared by the retry manager,
// plus the per-host circuit breaker thresholds the fetcher trips on
// repeated transient failure (resilience.CircuitBreakerConfig).
type RetryPolicyConfig struct {
	Attempts       int `yaml:"attempts" mapstructure:"attempts"`
	DelaySecs      int `yaml:"delay_secs" mapstructure:"delay_secs"`
	MaxDelaySecs   int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	MaxTotalTries  int `yaml:"max_total_attempts" mapstructure:"max_total_attempts"`
	MaxDownloadTry int `yaml:"max_download_attempts" mapstructure:"max_download_attempts"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetTimeoutSecs int `yaml:"circuit_reset_timeout_secs" mapstructure:"circuit_reset_timeout_secs"`
}

// AcquisitionConfig controls the download coordinator's concurrency and I/O shape.
type AcquisitionConfig struct {
	MaxConcurrent int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ChunkSize     int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	EnableResume  bool `yaml:"enable_resume" mapstructure:"enable_resume"`
}

// SafetyConfig bounds archive extraction and directory mirroring.
type SafetyConfig struct {
	MaxArchiveSize    int64 `yaml:"max_archive_size" mapstructure:"max_archive_size"`
	MaxExtractionDepth int  `yaml:"max_extraction_depth" mapstructure:"max_extraction_depth"`
	MinFileSize       int64 `yaml:"min_file_size" mapstructure:"min_file_size"`
	XSDMaxImportDepth int   `yaml:"xsd_max_import_depth" mapstructure:"xsd_max_import_depth"`
	DirectoryMaxDepth int   `yaml:"directory_max_depth" mapstructure:"directory_max_depth"`
}

// SECConfig holds SEC EDGAR policy (mandatory contact User-Agent, spec §6).
type SECConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitPerSec int    `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// UKCHConfig holds UK Companies House credentials and policy.
type UKCHConfig struct {
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitPer5Min int    `yaml:"rate_limit_per_5min" mapstructure:"rate_limit_per_5min"`
}

// ESEFConfig holds the ESEF/XBRL aggregator's base URL and policy.
type ESEFConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LibraryConfig tunes the taxonomy library resolver.
type LibraryConfig struct {
	MonitorIntervalSecs int `yaml:"monitor_interval_secs" mapstructure:"monitor_interval_secs"`
	MinFilesThreshold   int `yaml:"min_files_threshold" mapstructure:"min_files_threshold"`
	CacheTTLSecs        int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// StoreConfig configures the database backend (dual postgres/sqlite).
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Name        string `yaml:"name" mapstructure:"name"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks required configuration for the given CLI mode.
// Supported modes: "download", "library".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Paths.EntitiesRoot == "" {
		errs = append(errs, "paths.entities_root is required")
	}
	if c.Paths.TaxonomiesRoot == "" {
		errs = append(errs, "paths.taxonomies_root is required")
	}

	switch mode {
	case "download":
		if c.Acquisition.MaxConcurrent < 1 {
			errs = append(errs, "acquisition.max_concurrent must be >= 1")
		}
		if c.SEC.UserAgent == "" {
			errs = append(errs, "sec.user_agent is required (SEC rejects requests without a contact User-Agent)")
		}
	case "library":
		if c.Library.MinFilesThreshold < 0 {
			errs = append(errs, "library.min_files_threshold must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables are prefixed FILINGS_ and use underscores in place
// of the nested-key dots (e.g. FILINGS_SEC_USER_AGENT -> sec.user_agent).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FILINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("paths.root", "/mnt/filings")
	v.SetDefault("paths.entities_root", "/mnt/filings/entities")
	v.SetDefault("paths.taxonomies_root", "/mnt/filings/taxonomies")
	v.SetDefault("paths.temp_dir", "/tmp/filings")
	v.SetDefault("paths.log_dir", "/mnt/filings/logs")
	v.SetDefault("paths.cache_dir", "/mnt/filings/cache")
	v.SetDefault("paths.manual_downloads", "/mnt/filings/manual")
	v.SetDefault("paths.manual_processed", "/mnt/filings/manual_processed")

	v.SetDefault("network.request_timeout_secs", 30)
	v.SetDefault("network.connect_timeout_secs", 10)
	v.SetDefault("network.read_timeout_secs", 60)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay_secs", 1)
	v.SetDefault("retry.max_delay_secs", 30)
	v.SetDefault("retry.max_total_attempts", 10)
	v.SetDefault("retry.max_download_attempts", 5)
	v.SetDefault("retry.circuit_failure_threshold", 5)
	v.SetDefault("retry.circuit_reset_timeout_secs", 30)

	v.SetDefault("acquisition.max_concurrent", 5)
	v.SetDefault("acquisition.chunk_size", 65536)
	v.SetDefault("acquisition.enable_resume", true)

	v.SetDefault("safety.max_archive_size", int64(2<<30)) // 2 GiB
	v.SetDefault("safety.max_extraction_depth", 12)
	v.SetDefault("safety.min_file_size", int64(16))
	v.SetDefault("safety.xsd_max_import_depth", 8)
	v.SetDefault("safety.directory_max_depth", 6)

	v.SetDefault("sec.rate_limit_per_sec", 10)
	v.SetDefault("uk_ch.rate_limit_per_5min", 600)
	v.SetDefault("uk_ch.user_agent", "filing-acquirer/1.0")
	v.SetDefault("esef.base_url", "https://filings.xbrl.org")

	v.SetDefault("library.monitor_interval_secs", 900)
	v.SetDefault("library.min_files_threshold", 2)
	v.SetDefault("library.cache_ttl_secs", 3600)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// InitLogger initializes the global zap logger from LogConfig.
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
