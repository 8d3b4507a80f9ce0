package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration written by InitConfig.
// Loading strips every "__comments__" entry, so the file stays valid
// JSON while still documenting itself.
const sampleConfig = `{
  "__comments__": [
    "iwplogd configuration file.",
    "Durations use Go syntax: 10s, 1m30s, 250ms.",
    "Every __comments__ entry is ignored by the loader.",
    "This file carries the shared secret; keep it mode 0600."
  ],

  "sftp_rsa_keyfile": "/etc/iwplog/ssh_host_rsa_key",
  "sftp_host_ip": "0.0.0.0",
  "sftp_listen_port": 2022,
  "sftp_auth_mode": "open",

  "shared_secret": "changeme",

  "credentials_url": "https://localhost:8443/credentials",
  "credentials_timeout": "10s",

  "device_profile": "iwp-controller",
  "device_ssh_port": 22,
  "device_command_template": "copy event-logging upload tftp://%s/%s.tar.gz",
  "device_connect_timeout": "15s",
  "device_log_dir": "/device_logs",

  "ingress_ip": "127.0.0.1",
  "event_window_seconds": 2,

  "error_code_patterns": [
    {
      "__comments__": "First class with a matching pattern wins; unmatched codes become \"unclassified\".",
      "class": "hardware",
      "patterns": ["^0x2[0-9a-fA-F]$"]
    },
    {
      "class": "communication",
      "patterns": ["^0x4[0-9a-fA-F]$", "^CONN_"]
    }
  ],

  "listener": {
    "__comments__": "PLC trigger listener. udp takes ASCII datagrams, tcp takes the binary frame.",
    "host": "0.0.0.0",
    "port": 9000,
    "transport": "udp"
  },

  "syslog": {
    "__comments__": "Collector that receives the parsed window lines.",
    "ip": "127.0.0.1",
    "port": 514,
    "transport": "udp"
  },

  "kerberos": {
    "__comments__": "Only read when sftp_auth_mode is \"kerberos\".",
    "enabled": false,
    "realm": "",
    "krb5_conf": "/etc/krb5.conf",
    "watch_config": false
  },

  "admin": {
    "__comments__": "Local diagnostics endpoint; carries no authentication, keep it on loopback.",
    "enabled": true,
    "host": "127.0.0.1",
    "port": 8780
  },

  "metrics": {
    "enabled": false
  },

  "telemetry": {
    "enabled": false,
    "endpoint": "localhost:4317",
    "insecure": true,
    "sample_rate": 1.0,
    "profiling": {
      "enabled": false,
      "endpoint": "http://localhost:4040"
    }
  },

  "log": {
    "level": "INFO",
    "format": "text",
    "output": "stdout"
  },

  "shutdown_timeout": "30s"
}
`

// InitConfig writes the sample configuration to the default location
// ($XDG_CONFIG_HOME/iwplog/config.json) and returns that path. An
// existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to an explicit path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600 because the file carries the shared secret.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
