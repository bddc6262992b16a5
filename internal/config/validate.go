package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop startup from values that
// were clamped or ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Validate checks the config and returns all errors found, logging each as a
// warning. Out-of-range numeric values are clamped in place.
func (c *Config) Validate() []error {
	errs := c.ValidateTiered().AllErrors()
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

// ValidateTiered checks the config and clamps dangerous values. Clamped
// values are warnings; values that cannot be corrected are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	clamp(&r, "target_width", &c.TargetWidth, 1, 1024)
	clamp(&r, "target_height", &c.TargetHeight, 1, 1024)
	clamp(&r, "fps", &c.FPS, 1, 60)
	clamp(&r, "acquire_timeout_ms", &c.AcquireTimeoutMs, 10, 1000)
	clamp(&r, "log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp(&r, "log_max_backups", &c.LogMaxBackups, 1, 100)
	clamp(&r, "ipc_calls_per_minute", &c.IPCCallsPerMinute, 60, 60000)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.IPCEnabled && c.IPCPath == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("ipc_path is required when ipc_enabled is set"))
	}
	for _, ch := range c.IPCSecret {
		if unicode.IsControl(ch) {
			r.Fatals = append(r.Fatals, fmt.Errorf("ipc_secret contains control characters"))
			break
		}
	}

	if c.WebSocketAddr != "" {
		if _, _, err := net.SplitHostPort(c.WebSocketAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("websocket_addr %q is not host:port: %w", c.WebSocketAddr, err))
		}
	}

	if c.DDPEnabled {
		if c.DDPHost == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("ddp_host is required when ddp_enabled is set"))
		}
		if c.DDPPort < 1 || c.DDPPort > 65535 {
			r.Fatals = append(r.Fatals, fmt.Errorf("ddp_port %d is out of range", c.DDPPort))
		}
	}
	// Payloads carry whole RGB pixels and must fit a standard MTU.
	clamp(&r, "ddp_max_payload", &c.DDPMaxPayload, 3, 1440)
	if rem := c.DDPMaxPayload % 3; rem != 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("ddp_max_payload %d is not a multiple of 3, rounding down", c.DDPMaxPayload))
		c.DDPMaxPayload -= rem
	}
	clamp(&r, "ddp_dscp", &c.DDPDSCP, 0, 63)

	return r
}

func clamp(r *ValidationResult, key string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
		*v = lo
	case *v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
		*v = hi
	}
}
