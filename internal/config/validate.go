package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates fatal configuration errors, which abort
// startup, from warnings about out-of-range values that were clamped to a
// safe default and allow startup to proceed.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal errors were recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered validates the config, clamping out-of-range fields to
// safe defaults in place and classifying each problem as fatal (blocks
// startup) or a warning (startup proceeds with the clamped value).
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.DataDir == "" {
		result.fatal("data_dir must not be empty")
	}

	if c.FPS <= 0 {
		result.fatal("fps %g must be greater than 0", c.FPS)
	} else if c.FPS > 30 {
		result.warn("fps %g exceeds maximum 30, clamping", c.FPS)
		c.FPS = 30
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		result.fatal("jpeg_quality %d must be in [1, 100]", c.JPEGQuality)
	}

	if c.RetentionDays < 1 {
		result.warn("retention_days %d is below minimum 1, clamping", c.RetentionDays)
		c.RetentionDays = 1
	} else if c.RetentionDays > 3650 {
		result.warn("retention_days %d exceeds maximum 3650, clamping", c.RetentionDays)
		c.RetentionDays = 3650
	}

	if c.DedupWindowSecs < 0 {
		result.warn("dedup_window_secs %d is negative, clamping to 0", c.DedupWindowSecs)
		c.DedupWindowSecs = 0
	} else if c.DedupWindowSecs > 3600 {
		result.warn("dedup_window_secs %d exceeds maximum 3600, clamping", c.DedupWindowSecs)
		c.DedupWindowSecs = 3600
	}

	if c.CaptureChannelCapacity < 1 {
		result.warn("capture_channel_capacity %d is below minimum 1, clamping", c.CaptureChannelCapacity)
		c.CaptureChannelCapacity = 1
	}

	if c.StorageChannelCapacity < 1 {
		result.warn("storage_channel_capacity %d is below minimum 1, clamping", c.StorageChannelCapacity)
		c.StorageChannelCapacity = 1
	}

	if c.MetricsLogIntervalSecs < 1 {
		result.warn("metrics_log_interval_secs %d is below minimum 1, clamping", c.MetricsLogIntervalSecs)
		c.MetricsLogIntervalSecs = 1
	}

	if c.ChannelWarnThreshold <= 0 || c.ChannelWarnThreshold > 1 {
		result.warn("channel_warn_threshold %g must be in (0, 1], clamping to 0.8", c.ChannelWarnThreshold)
		c.ChannelWarnThreshold = 0.8
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.warn("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel)
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.warn("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat)
		c.LogFormat = "text"
	}

	return result
}
