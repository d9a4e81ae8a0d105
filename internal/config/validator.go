package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every section of cfg.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRelay(&cfg.Relay, result)
	validateCapture(&cfg.Capture, result)
	validateHealth(&cfg.Health, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateNotify(&cfg.Notify, result)

	return result
}

func validateRelay(r *RelayConfig, result *ValidationResult) {
	validateHostPort(r.Listen, "relay.listen", result)
	validateHostPort(r.Upstream, "relay.upstream", result)
	if r.Listen != "" && r.Listen == r.Upstream {
		result.AddError("relay.upstream", "upstream must differ from the listen address")
	}

	switch r.Variant {
	case VariantA, VariantB:
	default:
		result.AddError("relay.variant", fmt.Sprintf("unknown variant %q (want %q or %q)", r.Variant, VariantB, VariantA))
	}

	if r.MaxFrameBody < 0 {
		result.AddError("relay.max_frame_body", "must not be negative")
	} else if r.MaxFrameBody == 0 {
		result.AddWarning("relay.max_frame_body", "frame size is unbounded, peers can force 64 KiB allocations per frame")
	}

	if r.ReadTimeoutSec < 0 {
		result.AddError("relay.read_timeout_sec", "must not be negative")
	}
	if r.DialTimeoutSec < 1 {
		result.AddWarning("relay.dial_timeout_sec", "dial timeout disabled, upstream dials may hang")
	}
	if r.MaxSessions < 1 {
		result.AddError("relay.max_sessions", "must allow at least 1 session")
	}
}

func validateCapture(c *CaptureConfig, result *ValidationResult) {
	if !c.Enabled {
		return
	}
	if strings.TrimSpace(c.Database) == "" {
		result.AddError("capture.database", "database path is required when capture is enabled")
	}
	if c.RetentionDays < 0 {
		result.AddError("capture.retention_days", "must not be negative")
	}
	if _, _, err := ParseClock(c.CleanupTime); err != nil {
		result.AddError("capture.cleanup_time", err.Error())
	}
}

func validateHealth(h *HealthConfig, result *ValidationResult) {
	if h.StaleCheckSec < 0 || h.DiskCheckSec < 0 || h.UpstreamCheckSec < 0 {
		result.AddError("health", "check intervals must not be negative")
	}
	if h.DiskWarnPercent < 0 || h.DiskWarnPercent > 100 {
		result.AddError("health.disk_warn_percent", "must be between 0 and 100")
	}
}

// ParseClock parses an "HH:MM" time of day. An empty string is 04:00.
func ParseClock(s string) (hour, minute int, err error) {
	if s == "" {
		return 4, 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if a.MaxDecodeBytes < 1 {
		result.AddError("api.max_decode_bytes", "must be positive")
	}
	if a.TLS && (a.CertFile == "" || a.KeyFile == "") {
		result.AddError("api.cert_file", "certificate and key paths are required with TLS")
	}
}

func validateNotify(n *NotifyConfig, result *ValidationResult) {
	if !n.Enabled {
		return
	}
	u, err := url.Parse(n.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.AddError("notify.webhook_url", fmt.Sprintf("invalid webhook URL %q", n.WebhookURL))
	}
	switch n.MinLevel {
	case "", "info", "warning", "error", "critical":
	default:
		result.AddError("notify.min_level", fmt.Sprintf("unknown level %q", n.MinLevel))
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateHostPort(addr, field string, result *ValidationResult) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid port %q", port))
		return
	}
	validatePort(n, field, result)
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
