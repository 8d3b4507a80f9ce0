package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.SFTPHostIP != "0.0.0.0" {
		t.Errorf("Expected default sftp_host_ip '0.0.0.0', got %q", cfg.SFTPHostIP)
	}
	if cfg.SFTPListenPort != 2022 {
		t.Errorf("Expected default sftp_listen_port 2022, got %d", cfg.SFTPListenPort)
	}
	if cfg.SFTPAuthMode != "open" {
		t.Errorf("Expected default sftp_auth_mode 'open', got %q", cfg.SFTPAuthMode)
	}
	if cfg.CredentialsTimeout != 10*time.Second {
		t.Errorf("Expected default credentials_timeout 10s, got %v", cfg.CredentialsTimeout)
	}
	if cfg.DeviceSSHPort != 22 {
		t.Errorf("Expected default device_ssh_port 22, got %d", cfg.DeviceSSHPort)
	}
	if cfg.DeviceConnectTimeout != 15*time.Second {
		t.Errorf("Expected default device_connect_timeout 15s, got %v", cfg.DeviceConnectTimeout)
	}
	if cfg.DeviceLogDir != "/device_logs" {
		t.Errorf("Expected default device_log_dir '/device_logs', got %q", cfg.DeviceLogDir)
	}
	if cfg.DeviceCommandTemplate != DefaultDeviceCommandTemplate {
		t.Errorf("Expected default command template, got %q", cfg.DeviceCommandTemplate)
	}
	if cfg.EventWindowSeconds != 2 {
		t.Errorf("Expected default event_window_seconds 2, got %v", cfg.EventWindowSeconds)
	}
	if cfg.Listener.Port != 9000 {
		t.Errorf("Expected default listener port 9000, got %d", cfg.Listener.Port)
	}
	if cfg.Listener.Transport != "udp" {
		t.Errorf("Expected default listener transport 'udp', got %q", cfg.Listener.Transport)
	}
	if cfg.Syslog.Port != 514 {
		t.Errorf("Expected default syslog port 514, got %d", cfg.Syslog.Port)
	}
	if cfg.Syslog.Transport != "udp" {
		t.Errorf("Expected default syslog transport 'udp', got %q", cfg.Syslog.Transport)
	}
	if cfg.Kerberos.Krb5Conf != "/etc/krb5.conf" {
		t.Errorf("Expected default krb5_conf '/etc/krb5.conf', got %q", cfg.Kerberos.Krb5Conf)
	}
	if !cfg.Admin.Enabled {
		t.Error("Expected admin surface enabled by default")
	}
	if cfg.Admin.Host != "127.0.0.1" {
		t.Errorf("Expected default admin host '127.0.0.1', got %q", cfg.Admin.Host)
	}
	if cfg.Admin.Port != 8780 {
		t.Errorf("Expected default admin port 8780, got %d", cfg.Admin.Port)
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected default telemetry endpoint 'localhost:4317', got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if cfg.Log.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Log.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Log.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		SFTPListenPort:     2222,
		EventWindowSeconds: 7.5,
		Listener: ListenerConfig{
			Host:      "192.0.2.1",
			Port:      9100,
			Transport: "tcp",
		},
		Syslog: SyslogConfig{
			IP:        "192.0.2.2",
			Port:      1514,
			Transport: "tcp",
		},
		Log: LoggingConfig{
			Level: "DEBUG",
		},
	}

	ApplyDefaults(cfg)

	if cfg.SFTPListenPort != 2222 {
		t.Errorf("Expected explicit sftp_listen_port 2222, got %d", cfg.SFTPListenPort)
	}
	if cfg.EventWindowSeconds != 7.5 {
		t.Errorf("Expected explicit event_window_seconds 7.5, got %v", cfg.EventWindowSeconds)
	}
	if cfg.Listener.Host != "192.0.2.1" {
		t.Errorf("Expected explicit listener host, got %q", cfg.Listener.Host)
	}
	if cfg.Listener.Port != 9100 {
		t.Errorf("Expected explicit listener port 9100, got %d", cfg.Listener.Port)
	}
	if cfg.Syslog.Transport != "tcp" {
		t.Errorf("Expected explicit syslog transport 'tcp', got %q", cfg.Syslog.Transport)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("Expected explicit log level 'DEBUG', got %q", cfg.Log.Level)
	}

	// Untouched fields still receive defaults
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Log.Format)
	}
	if cfg.DeviceSSHPort != 22 {
		t.Errorf("Expected default device_ssh_port 22, got %d", cfg.DeviceSSHPort)
	}
}

func TestApplyDefaults_NormalizesCase(t *testing.T) {
	cfg := &Config{
		SFTPAuthMode: "KERBEROS",
		Listener: ListenerConfig{
			Transport: "TCP",
		},
		Syslog: SyslogConfig{
			Transport: "UDP",
		},
		Log: LoggingConfig{
			Level: "debug",
		},
	}

	ApplyDefaults(cfg)

	if cfg.SFTPAuthMode != "kerberos" {
		t.Errorf("Expected lowercased auth mode 'kerberos', got %q", cfg.SFTPAuthMode)
	}
	if cfg.Listener.Transport != "tcp" {
		t.Errorf("Expected lowercased listener transport 'tcp', got %q", cfg.Listener.Transport)
	}
	if cfg.Syslog.Transport != "udp" {
		t.Errorf("Expected lowercased syslog transport 'udp', got %q", cfg.Syslog.Transport)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("Expected uppercased log level 'DEBUG', got %q", cfg.Log.Level)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}
