// Package kerberos verifies inbound SFTP passwords against a Kerberos KDC.
//
// Verification performs an AS exchange (initial ticket request) with the
// presented username and password; no keytab is required. The krb5.conf
// can be hot-reloaded when watching is enabled, so KDC changes do not
// require a restart.
package kerberos

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/pkg/auth"
	dconfig "github.com/iwplog/iwplogd/pkg/config"
)

// Verifier verifies username/password pairs by performing an AS exchange
// against the realm's KDC.
//
// Thread Safety: all methods are safe for concurrent use. The krb5.conf
// can be hot-reloaded at runtime without disrupting inbound sessions.
type Verifier struct {
	realm    string
	confPath string

	mu       sync.RWMutex
	krb5Conf *krb5config.Config

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewVerifier creates a Verifier from configuration.
//
// The krb5.conf is loaded at startup. When cfg.WatchConfig is set, a
// watcher reloads it on change; a watcher that fails to start is logged
// and skipped rather than failing construction.
func NewVerifier(cfg *dconfig.KerberosConfig) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("kerberos realm not configured")
	}

	confPath := resolveKrb5ConfPath(cfg.Krb5Conf)
	krbCfg, err := loadKrb5Conf(confPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", confPath, err)
	}

	v := &Verifier{
		realm:    cfg.Realm,
		confPath: confPath,
		krb5Conf: krbCfg,
		stopCh:   make(chan struct{}),
	}

	if cfg.WatchConfig {
		if err := v.watchConf(); err != nil {
			// Non-fatal: hot-reload just won't work.
			logger.Warn("krb5.conf hot-reload failed to start, continuing without it",
				logger.Path(confPath), logger.Err(err))
		}
	}

	return v, nil
}

// VerifyPassword performs an AS exchange for username against the realm.
//
// A username carrying an explicit "@REALM" suffix is verified against
// that realm instead of the configured one.
func (v *Verifier) VerifyPassword(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return auth.ErrInvalidCredentials
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	principal, realm := v.splitPrincipal(username)

	cl := client.NewWithPassword(principal, realm, password, v.conf(),
		client.DisablePAFXFAST(true))
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		logger.Debug("kerberos AS exchange failed",
			logger.Username(username), logger.Err(err))
		return fmt.Errorf("%w: %v", auth.ErrAuthFailed, err)
	}

	return nil
}

// Name returns the verifier name for logging and diagnostics.
func (v *Verifier) Name() string { return "kerberos" }

// Realm returns the configured realm.
func (v *Verifier) Realm() string { return v.realm }

// Reload re-reads krb5.conf and atomically swaps it. The old
// configuration remains active when the new one cannot be parsed.
func (v *Verifier) Reload() error {
	krbCfg, err := loadKrb5Conf(v.confPath)
	if err != nil {
		return fmt.Errorf("reload krb5.conf %s: %w", v.confPath, err)
	}

	v.mu.Lock()
	v.krb5Conf = krbCfg
	v.mu.Unlock()

	return nil
}

// Close stops the config watcher. Safe to call multiple times.
func (v *Verifier) Close() error {
	v.stopOnce.Do(func() { close(v.stopCh) })
	if v.watcher != nil {
		return v.watcher.Close()
	}
	return nil
}

func (v *Verifier) conf() *krb5config.Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.krb5Conf
}

// splitPrincipal separates an explicit realm suffix from the username.
func (v *Verifier) splitPrincipal(username string) (string, string) {
	if at := strings.LastIndex(username, "@"); at > 0 && at < len(username)-1 {
		return username[:at], username[at+1:]
	}
	return username, v.realm
}

// watchConf watches the directory holding krb5.conf. Admin tools rewrite
// the file by rename, which replaces the watched inode, so the directory
// is watched instead of the file itself.
func (v *Verifier) watchConf() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(v.confPath)); err != nil {
		w.Close()
		return err
	}
	v.watcher = w

	go v.watchLoop()

	logger.Info("krb5.conf hot-reload started", logger.Path(v.confPath))
	return nil
}

func (v *Verifier) watchLoop() {
	for {
		select {
		case event, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if event.Name != v.confPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := v.Reload(); err != nil {
				logger.Error("krb5.conf reload failed",
					logger.Path(v.confPath), logger.Err(err))
				continue
			}
			logger.Info("krb5.conf reloaded", logger.Path(v.confPath))

		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("krb5.conf watch error", logger.Err(err))

		case <-v.stopCh:
			return
		}
	}
}

// Compile-time check that Verifier implements auth.Verifier.
var _ auth.Verifier = (*Verifier)(nil)

// resolveKrb5ConfPath falls back to the system default when the path is
// not configured.
func resolveKrb5ConfPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return "/etc/krb5.conf"
}

// loadKrb5Conf reads and parses a Kerberos configuration file.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}

	return cfg, nil
}
