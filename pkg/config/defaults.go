package config

import (
	"strings"
	"time"
)

// DefaultDeviceCommandTemplate renders the upload command sent to a device.
// The verbs receive the ingress address and the event ID, in that order.
const DefaultDeviceCommandTemplate = "copy event-logging upload tftp://%s/%s.tar.gz"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyPipelineDefaults(cfg)
	applyListenerDefaults(&cfg.Listener)
	applySyslogDefaults(&cfg.Syslog)
	applyKerberosDefaults(&cfg.Kerberos)
	applyAdminDefaults(&cfg.Admin)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyLoggingDefaults(&cfg.Log)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyPipelineDefaults sets defaults for the flat pipeline settings.
func applyPipelineDefaults(cfg *Config) {
	if cfg.SFTPHostIP == "" {
		cfg.SFTPHostIP = "0.0.0.0"
	}
	if cfg.SFTPListenPort == 0 {
		cfg.SFTPListenPort = 2022
	}
	if cfg.SFTPAuthMode == "" {
		cfg.SFTPAuthMode = "open"
	}
	cfg.SFTPAuthMode = strings.ToLower(cfg.SFTPAuthMode)

	if cfg.CredentialsTimeout == 0 {
		cfg.CredentialsTimeout = 10 * time.Second
	}
	if cfg.DeviceSSHPort == 0 {
		cfg.DeviceSSHPort = 22
	}
	if cfg.DeviceCommandTemplate == "" {
		cfg.DeviceCommandTemplate = DefaultDeviceCommandTemplate
	}
	if cfg.DeviceConnectTimeout == 0 {
		cfg.DeviceConnectTimeout = 15 * time.Second
	}
	if cfg.DeviceLogDir == "" {
		cfg.DeviceLogDir = "/device_logs"
	}
	if cfg.EventWindowSeconds == 0 {
		cfg.EventWindowSeconds = 2
	}
}

// applyListenerDefaults sets trigger listener defaults and normalizes the
// transport name.
func applyListenerDefaults(cfg *ListenerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
}

// applySyslogDefaults sets syslog collector defaults.
func applySyslogDefaults(cfg *SyslogConfig) {
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
}

// applyKerberosDefaults sets KDC verification defaults.
func applyKerberosDefaults(cfg *KerberosConfig) {
	if cfg.Krb5Conf == "" {
		cfg.Krb5Conf = "/etc/krb5.conf"
	}
}

// applyAdminDefaults sets admin surface defaults.
func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8780
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		SFTPRSAKeyfile: "/etc/iwplog/ssh_host_rsa_key",
		SharedSecret:   "changeme",
		CredentialsURL: "https://localhost:8443/credentials",
		DeviceProfile:  "iwp-controller",
		IngressIP:      "127.0.0.1",
		Syslog: SyslogConfig{
			IP: "127.0.0.1",
		},
		Admin: AdminConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
