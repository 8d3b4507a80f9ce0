package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the iwplogd configuration.
//
// This structure captures the static configuration of the event pipeline:
//   - Trigger listener (UDP/TCP bind address and shared secret)
//   - Embedded SFTP ingress (bind address, host key, auth mode)
//   - Outbound device sessions (credentials service, SSH port, command)
//   - Window parser and syslog emission
//   - Ambient concerns (logging, telemetry, metrics, admin surface)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IWPLOG_*)
//  2. Configuration file (JSON)
//  3. Default values (lowest priority)
//
// Keys named "__comments__" may appear at any depth of the JSON file and
// are stripped before decoding.
type Config struct {
	// SFTPRSAKeyfile is the path to the PEM-encoded RSA host key for the
	// embedded SSH/SFTP server.
	SFTPRSAKeyfile string `mapstructure:"sftp_rsa_keyfile" json:"sftp_rsa_keyfile" validate:"required"`

	// SFTPHostIP is the bind address of the SFTP ingress.
	SFTPHostIP string `mapstructure:"sftp_host_ip" json:"sftp_host_ip" validate:"required"`

	// SFTPListenPort is the bind port of the SFTP ingress.
	SFTPListenPort int `mapstructure:"sftp_listen_port" json:"sftp_listen_port" validate:"required,min=1,max=65535"`

	// SFTPAuthMode selects inbound authentication: "open" accepts any
	// credentials, "kerberos" verifies passwords against the realm's KDC.
	SFTPAuthMode string `mapstructure:"sftp_auth_mode" json:"sftp_auth_mode" validate:"omitempty,oneof=open kerberos"`

	// SharedSecret is the secret every PLC trigger must carry.
	SharedSecret string `mapstructure:"shared_secret" json:"shared_secret" validate:"required,max=48"`

	// CredentialsURL is the HTTPS endpoint queried for device credentials
	// as <url>?ip=<device-ip>.
	CredentialsURL string `mapstructure:"credentials_url" json:"credentials_url" validate:"required,url"`

	// CredentialsTimeout bounds one credentials fetch.
	CredentialsTimeout time.Duration `mapstructure:"credentials_timeout" json:"credentials_timeout"`

	// DeviceProfile names the device type the outbound SSH dialer targets.
	// It is recorded in session transcripts and logs.
	DeviceProfile string `mapstructure:"device_profile" json:"device_profile"`

	// DeviceSSHPort is the SSH port on the devices.
	DeviceSSHPort int `mapstructure:"device_ssh_port" json:"device_ssh_port" validate:"omitempty,min=1,max=65535"`

	// DeviceCommandTemplate renders the upload command. It receives the
	// ingress address and the event ID, in that order.
	DeviceCommandTemplate string `mapstructure:"device_command_template" json:"device_command_template"`

	// DeviceConnectTimeout bounds the outbound SSH dial.
	DeviceConnectTimeout time.Duration `mapstructure:"device_connect_timeout" json:"device_connect_timeout"`

	// DeviceLogDir is the VirtualFS directory session transcripts are
	// written into.
	DeviceLogDir string `mapstructure:"device_log_dir" json:"device_log_dir"`

	// IngressIP is the address devices upload to; it is embedded in the
	// device command so the archive comes back to this process.
	IngressIP string `mapstructure:"ingress_ip" json:"ingress_ip" validate:"required"`

	// EventWindowSeconds is the half-width of the log window kept around
	// the fault timestamp.
	EventWindowSeconds float64 `mapstructure:"event_window_seconds" json:"event_window_seconds" validate:"omitempty,gt=0"`

	// ErrorCodePatterns classifies PLC error codes. Entries are evaluated
	// in order; the first class whose pattern matches wins.
	ErrorCodePatterns []ErrorClassPattern `mapstructure:"error_code_patterns" json:"error_code_patterns,omitempty"`

	// Listener configures the PLC trigger listener.
	Listener ListenerConfig `mapstructure:"listener" json:"listener"`

	// Syslog configures the downstream syslog collector.
	Syslog SyslogConfig `mapstructure:"syslog" json:"syslog"`

	// Kerberos configures KDC password verification for the SFTP ingress.
	Kerberos KerberosConfig `mapstructure:"kerberos" json:"kerberos"`

	// Admin configures the local HTTP status surface.
	Admin AdminConfig `mapstructure:"admin" json:"admin"`

	// Metrics controls Prometheus metrics collection. The exposition
	// endpoint is mounted on the admin listener.
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`

	// Log controls log output behavior
	Log LoggingConfig `mapstructure:"log" json:"log"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" validate:"required,gt=0"`
}

// ErrorClassPattern binds a class name to the regular expressions that
// select it.
type ErrorClassPattern struct {
	// Class is the name recorded on matching events.
	Class string `mapstructure:"class" json:"class" validate:"required"`

	// Patterns are RE2 expressions matched against the raw PLC error code.
	Patterns []string `mapstructure:"patterns" json:"patterns" validate:"required,min=1"`
}

// ListenerConfig configures the PLC trigger listener.
type ListenerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" json:"host"`

	// Port is the bind port.
	Port int `mapstructure:"port" json:"port" validate:"required,min=1,max=65535"`

	// Transport selects the wire form: "udp" (ASCII) or "tcp" (binary).
	Transport string `mapstructure:"transport" json:"transport" validate:"required,oneof=udp tcp"`

	// SecretExtraChars lists characters permitted in trigger secrets
	// beyond the alphanumerics.
	SecretExtraChars string `mapstructure:"secret_extra_chars" json:"secret_extra_chars,omitempty"`
}

// SyslogConfig configures the downstream syslog collector.
type SyslogConfig struct {
	// IP is the collector address.
	IP string `mapstructure:"ip" json:"ip" validate:"required"`

	// Port is the collector port.
	Port int `mapstructure:"port" json:"port" validate:"required,min=1,max=65535"`

	// Transport is "udp" (one datagram per line) or "tcp" (stream).
	Transport string `mapstructure:"transport" json:"transport" validate:"required,oneof=udp tcp"`
}

// KerberosConfig configures KDC password verification for inbound SFTP
// sessions. It is only consulted when Config.SFTPAuthMode is "kerberos".
type KerberosConfig struct {
	// Enabled controls whether the verifier is constructed at start-up.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Realm is the Kerberos realm usernames are verified against.
	Realm string `mapstructure:"realm" json:"realm,omitempty"`

	// Krb5Conf is the path to the Kerberos configuration file.
	// Default: /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" json:"krb5_conf,omitempty"`

	// WatchConfig reloads the verifier when Krb5Conf changes on disk.
	WatchConfig bool `mapstructure:"watch_config" json:"watch_config"`
}

// AdminConfig configures the local HTTP surface serving /healthz,
// /api/status and, when metrics are enabled, /metrics.
type AdminConfig struct {
	// Enabled controls whether the admin listener is started.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Host is the bind address. Default: 127.0.0.1
	Host string `mapstructure:"host" json:"host"`

	// Port is the bind port. Default: 8780
	Port int `mapstructure:"port" json:"port" validate:"omitempty,min=1,max=65535"`

	// ReadTimeout bounds request reads. Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout"`

	// WriteTimeout bounds response writes. Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`

	// IdleTimeout bounds idle keep-alive connections. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// MetricsConfig controls Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" json:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate" validate:"omitempty,gte=0,lte=1"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" json:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" json:"profile_types,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" json:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" json:"output" validate:"required"`
}

// commentKey marks JSON keys that hold documentation rather than
// configuration.
const commentKey = "__comments__"

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IWPLOG_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	// Strip comment keys before decoding; they may appear at any depth.
	settings := v.AllSettings()
	stripComments(settings)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       configDecodeHooks(),
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages. A missing
// config file is repaired from a sample file when one is present next to
// the expected location; the caller is then expected to exit non-zero so
// the operator reviews the copied file.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			if sample, copied := copySampleConfig(GetDefaultConfigPath()); copied {
				return nil, fmt.Errorf("no configuration file found at %s\n\n"+
					"A sample configuration was copied from %s.\n"+
					"Review it, then restart:\n"+
					"  iwplogd start",
					GetDefaultConfigPath(), sample)
			}
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  iwplogd init\n\n"+
				"Or specify a custom config file:\n"+
				"  iwplogd <command> --config /path/to/config.json",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if sample, copied := copySampleConfig(configPath); copied {
				return nil, fmt.Errorf("configuration file not found: %s\n\n"+
					"A sample configuration was copied from %s.\n"+
					"Review it, then restart.",
					configPath, sample)
			}
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  iwplogd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path as
// indented JSON.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	// 0600 because the file carries the shared secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the IWPLOG_ prefix and underscores.
	// Example: IWPLOG_LOG_LEVEL=DEBUG, IWPLOG_LISTENER_PORT=9000
	v.SetEnvPrefix("IWPLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/iwplog/config.json
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("json")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config paths surface as os.PathError when missing.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// stripComments removes commentKey entries from a settings tree in place.
func stripComments(m map[string]any) {
	delete(m, commentKey)
	for _, value := range m {
		switch val := value.(type) {
		case map[string]any:
			stripComments(val)
		case []any:
			for _, item := range val {
				if inner, ok := item.(map[string]any); ok {
					stripComments(inner)
				}
			}
		}
	}
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" and raw numbers
// (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// JSON deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// copySampleConfig copies a sample config next to the target path when one
// exists. Candidates are config.sample.json beside the target and in the
// working directory.
func copySampleConfig(target string) (string, bool) {
	candidates := []string{
		filepath.Join(filepath.Dir(target), "config.sample.json"),
		"config.sample.json",
	}
	for _, sample := range candidates {
		src, err := os.Open(sample)
		if err != nil {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			src.Close()
			return "", false
		}
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			src.Close()
			return "", false
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			os.Remove(target)
			return "", false
		}
		return sample, true
	}
	return "", false
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "iwplog")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "iwplog")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.json")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
