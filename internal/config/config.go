// Package config loads and validates screenlogd's process configuration:
// capture cadence, retention, channel sizing, and logging, layered from a
// YAML file with SCREENLOGD_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the full set of tunables for a screenlogd process.
type Config struct {
	DataDir                string  `mapstructure:"data_dir"`
	FPS                    float64 `mapstructure:"fps"`
	RetentionDays          int     `mapstructure:"retention_days"`
	JPEGQuality            int     `mapstructure:"jpeg_quality"`
	DedupWindowSecs        int     `mapstructure:"dedup_window_secs"`
	CaptureChannelCapacity int     `mapstructure:"capture_channel_capacity"`
	StorageChannelCapacity int     `mapstructure:"storage_channel_capacity"`
	MetricsLogIntervalSecs int     `mapstructure:"metrics_log_interval_secs"`
	ChannelWarnThreshold   float64 `mapstructure:"channel_warn_threshold"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Status control-plane
	StatusHTTPAddr string `mapstructure:"status_http_addr"`
	StatusSocket   string `mapstructure:"status_socket_path"`

	// DBDSN is never read from YAML; it is always sourced from the
	// SCREENLOGD_DB_DSN environment variable by Load.
	DBDSN string `mapstructure:"-"`
}

// Default returns a Config populated with spec defaults.
func Default() *Config {
	return &Config{
		DataDir:                GetDataDir(),
		FPS:                    0.5,
		RetentionDays:          30,
		JPEGQuality:            85,
		DedupWindowSecs:        10,
		CaptureChannelCapacity: 64,
		StorageChannelCapacity: 32,
		MetricsLogIntervalSecs: 60,
		ChannelWarnThreshold:   0.8,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		StatusHTTPAddr: "127.0.0.1:7321",
		StatusSocket:   defaultSocketPath(),
	}
}

// Load reads configuration from cfgFile (or the platform default config
// directory when empty), layers SCREENLOGD_-prefixed env overrides, and
// validates the result. Fatal validation errors abort startup; warnings
// are returned alongside the config for the caller to log.
func Load(cfgFile string) (*Config, []error, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("screenlogd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SCREENLOGD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.DBDSN = os.Getenv("SCREENLOGD_DB_DSN")

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, result.Warnings, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, result.Warnings, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the platform default path when empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("data_dir", cfg.DataDir)
	v.Set("fps", cfg.FPS)
	v.Set("retention_days", cfg.RetentionDays)
	v.Set("jpeg_quality", cfg.JPEGQuality)
	v.Set("dedup_window_secs", cfg.DedupWindowSecs)
	v.Set("capture_channel_capacity", cfg.CaptureChannelCapacity)
	v.Set("storage_channel_capacity", cfg.StorageChannelCapacity)
	v.Set("metrics_log_interval_secs", cfg.MetricsLogIntervalSecs)
	v.Set("channel_warn_threshold", cfg.ChannelWarnThreshold)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)
	v.Set("status_http_addr", cfg.StatusHTTPAddr)
	v.Set("status_socket_path", cfg.StatusSocket)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "screenlogd.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific default data directory.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "screenlogd", "data")
	case "darwin":
		return "/Library/Application Support/screenlogd/data"
	default:
		return "/var/lib/screenlogd"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "screenlogd")
	case "darwin":
		return "/Library/Application Support/screenlogd"
	default:
		return "/etc/screenlogd"
	}
}

func defaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\screenlogd-status`
	}
	return "/var/run/screenlogd/status.sock"
}
