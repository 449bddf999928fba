package config

import (
	"fmt"
	"net"
	"net/netip"
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

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateLink(&cfg.Link, result)
	validateServer(&cfg.Server, result)
	validateApplicationData(&cfg.Application, result)

	return result
}

func validateLink(l *LinkConfig, result *ValidationResult) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(l.RemoteAddress))
	switch {
	case strings.TrimSpace(l.RemoteAddress) == "":
		result.AddError("link.remote_address", "remote lobby address is required")
	case err != nil:
		result.AddError("link.remote_address", fmt.Sprintf("expected host:port, got %q", l.RemoteAddress))
	case host == "":
		result.AddError("link.remote_address", "host is empty")
	default:
		n, convErr := strconv.Atoi(port)
		if convErr != nil || n < 1 || n > 65535 {
			result.AddError("link.remote_address", fmt.Sprintf("invalid port %q", port))
		}
	}

	if l.ProtocolVersion <= 0 {
		result.AddError("link.protocol_version", "protocol version must be positive")
	}
	if strings.TrimSpace(l.ClientName) == "" {
		result.AddWarning("link.client_name", "client name is empty")
	}

	if l.PollIntervalMs < 1 {
		result.AddError("link.poll_interval_ms", "poll interval must be at least 1ms")
	} else if l.PollIntervalMs > 100 {
		result.AddWarning("link.poll_interval_ms", "poll interval above 100ms makes stop() slow to take effect")
	}

	if l.ConnectSpacingMs < 1000 {
		result.AddWarning("link.connect_spacing_ms", "connect spacing below 1s may flood the lobby with connects")
	}
	if l.RetryAfterDropMs < 0 || l.RetryNeverConnectedMs < 0 {
		result.AddError("link.retry", "reconnect backoff must not be negative")
	}
	if l.RetryNeverConnectedMs < l.RetryAfterDropMs {
		result.AddWarning("link.retry_never_connected_ms", "never-connected backoff is shorter than the post-drop backoff")
	}

	if l.DialTimeoutMs < 1 {
		result.AddError("link.dial_timeout_ms", "dial timeout must be positive")
	}
	if l.WriteTimeoutMs < 1 {
		result.AddError("link.write_timeout_ms", "write timeout must be positive")
	}
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(s.Name) == "" {
		result.AddError("server.name", "server name is required")
	}
	validatePort(s.TCPPort, "server.tcp_port", result)

	if s.PlayerCount < 0 {
		result.AddError("server.player_count", "player count must not be negative")
	}

	validateIP(s.LocalIP, "server.local_ip", result)
	validateIP(s.ExternalIP, "server.external_ip", result)

	if s.AddressCheckIntervalSec > 0 && s.AddressCheckIntervalSec < 60 {
		result.AddWarning("server.address_check_interval_sec",
			"address check interval below 60s may cause excessive requests")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application.api.port", result)

		if data.API.TLSEnabled {
			if strings.TrimSpace(data.API.TLSCertFile) == "" {
				result.AddError("application.api.tls_cert_file",
					"TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.API.TLSKeyFile) == "" {
				result.AddError("application.api.tls_key_file",
					"TLS key file is required when TLS is enabled")
			}
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if data.API.AuthToken == "" {
			result.AddWarning("application.api.auth_token",
				"no auth token set, control routes are open to whitelisted clients")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Journal.Enabled {
		if strings.TrimSpace(data.Journal.Path) == "" {
			result.AddError("application.journal.path", "journal path is required when enabled")
		}
		if data.Journal.RetentionDays < 1 {
			result.AddError("application.journal.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.Journal.CleanupTime); err != nil {
			result.AddError("application.journal.cleanup_time", "cleanup time must be HH:MM")
		}
	}

	if data.Metrics.Enabled && !strings.HasPrefix(data.Metrics.Path, "/") {
		result.AddError("application.metrics.path", "metrics path must start with /")
	}
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

func validateIP(ip, field string, result *ValidationResult) {
	if ip == "" {
		return
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		result.AddError(field, fmt.Sprintf("invalid IP address %q", ip))
	}
}
