// Package runtime assembles the event pipeline and runs its servers.
//
// Construction wires every stage to the bus; Serve binds the network
// surfaces and blocks until the context is cancelled or a surface
// fails. Stages exchange nothing but bus signals, so the wiring here is
// the single place the pipeline shape is visible:
//
//	trigger listener -> store -> device manager -> SFTP ingress
//	 -> extractor -> window parser -> syslog sender
package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/iwplog/iwplogd/internal/admin"
	"github.com/iwplog/iwplogd/internal/device"
	"github.com/iwplog/iwplogd/internal/errcode"
	"github.com/iwplog/iwplogd/internal/extract"
	"github.com/iwplog/iwplogd/internal/listener"
	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/parser"
	"github.com/iwplog/iwplogd/internal/sftpd"
	"github.com/iwplog/iwplogd/internal/syslog"
	"github.com/iwplog/iwplogd/internal/trigger"
	"github.com/iwplog/iwplogd/internal/work"
	"github.com/iwplog/iwplogd/pkg/auth"
	"github.com/iwplog/iwplogd/pkg/auth/kerberos"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/config"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/metrics/prometheus"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// adminStopTimeout bounds the admin listener drain during shutdown.
const adminStopTimeout = 5 * time.Second

// Runtime owns every pipeline stage and the servers that feed them.
type Runtime struct {
	cfg *config.Config

	bus   *bus.Bus
	fs    *vfs.FS
	store *events.Store
	pool  *work.Pool

	verifier  auth.Verifier
	manager   *device.Manager
	extractor *extract.Extractor
	parser    *parser.Parser
	sender    *syslog.Sender

	listener *listener.Server
	sftp     *sftpd.Server
	admin    *admin.Server

	serveOnce sync.Once
}

// Option overrides one collaborator during construction. Used by tests
// to stand in for the device fleet and the credentials service.
type Option func(*options)

type options struct {
	creds  device.CredsFetcher
	runner device.Runner
}

// WithCredsFetcher replaces the HTTPS credentials client.
func WithCredsFetcher(f device.CredsFetcher) Option {
	return func(o *options) { o.creds = f }
}

// WithRunner replaces the outbound SSH command runner.
func WithRunner(r device.Runner) Option {
	return func(o *options) { o.runner = r }
}

// New assembles the pipeline from a validated configuration. The SSH
// host key must already exist at cfg.SFTPRSAKeyfile.
func New(cfg *config.Config, ropts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range ropts {
		opt(&o)
	}

	classifier, err := errcode.NewClassifier(cfg.ErrorCodePatterns)
	if err != nil {
		return nil, fmt.Errorf("compile error class patterns: %w", err)
	}

	if cfg.Metrics.Enabled && !metrics.IsEnabled() {
		metrics.InitRegistry()
	}
	pm := prometheus.NewPipelineMetrics()
	sm := prometheus.NewSFTPMetrics()

	b := bus.New()
	fs := vfs.New()
	store := events.NewStore(b, events.WithClassifier(classifier), events.WithMetrics(pm))
	pool := work.NewPool(work.DefaultPoolConfig())

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	hostKey, err := sftpd.LoadHostKey(cfg.SFTPRSAKeyfile)
	if err != nil {
		return nil, fmt.Errorf("load SSH host key: %w (generate one with \"iwplogd init\")", err)
	}

	if o.creds == nil {
		o.creds = device.NewCredsClient(cfg.CredentialsURL, cfg.CredentialsTimeout)
	}
	if o.runner == nil {
		o.runner = device.NewSSHRunner(cfg.DeviceSSHPort, cfg.DeviceConnectTimeout)
	}

	manager := device.NewManager(device.Options{
		IngressIP:       cfg.IngressIP,
		CommandTemplate: cfg.DeviceCommandTemplate,
		Profile:         cfg.DeviceProfile,
		LogDir:          cfg.DeviceLogDir,
	}, o.creds, o.runner, store, fs, pool, pm)

	validator := trigger.NewValidator(cfg.SharedSecret, cfg.Listener.SecretExtraChars)

	rt := &Runtime{
		cfg:       cfg,
		bus:       b,
		fs:        fs,
		store:     store,
		pool:      pool,
		verifier:  verifier,
		manager:   manager,
		extractor: extract.New(b, pool, pm),
		parser:    parser.New(store, fs, b, pool, pm, cfg.EventWindowSeconds),
		sender: syslog.New(syslog.Options{
			IP:        cfg.Syslog.IP,
			Port:      cfg.Syslog.Port,
			Transport: cfg.Syslog.Transport,
		}, store, pool, pm),
		listener: listener.NewServer(cfg.Listener, validator, b, pm),
		sftp: sftpd.NewServer(sftpd.Options{
			Host:    cfg.SFTPHostIP,
			Port:    cfg.SFTPListenPort,
			HostKey: hostKey,
		}, verifier, fs, b, sm),
	}

	if cfg.Admin.Enabled {
		rt.admin = admin.NewServer(admin.Options{
			Host:         cfg.Admin.Host,
			Port:         cfg.Admin.Port,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
			IdleTimeout:  cfg.Admin.IdleTimeout,
		}, store, fs)
	}

	// Stage wiring. Each signal has exactly one pipeline consumer.
	b.NetworkDataReceived.Subscribe(store.HandleNetworkData)
	b.CIPEventCreated.Subscribe(manager.HandleEventCreated)
	b.FileReceived.Subscribe(rt.extractor.HandleFileReceived)
	b.ExtractionCompleted.Subscribe(rt.parser.HandleExtractionCompleted)
	b.LogProcessingCompleted.Subscribe(rt.sender.HandleLogProcessingCompleted)

	return rt, nil
}

// newVerifier builds the inbound session verifier for the configured
// auth mode.
func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	switch cfg.SFTPAuthMode {
	case "", "open":
		return auth.Open{}, nil
	case "kerberos":
		v, err := kerberos.NewVerifier(&cfg.Kerberos)
		if err != nil {
			return nil, fmt.Errorf("kerberos verifier: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown sftp_auth_mode %q", cfg.SFTPAuthMode)
	}
}

// Serve runs the pipeline until ctx is cancelled or a server fails.
// It returns nil on a clean shutdown; a second call is a no-op.
func (r *Runtime) Serve(ctx context.Context) error {
	var err error
	r.serveOnce.Do(func() {
		err = r.serve(ctx)
	})
	return err
}

func (r *Runtime) serve(ctx context.Context) error {
	logger.Info("starting event pipeline",
		logger.Transport(r.cfg.Listener.Transport),
		logger.ListenAddr(net.JoinHostPort(r.cfg.Listener.Host, strconv.Itoa(r.cfg.Listener.Port))),
		logger.AuthMode(r.verifier.Name()),
		logger.Window(r.cfg.EventWindowSeconds),
		logger.Collector(net.JoinHostPort(r.cfg.Syslog.IP, strconv.Itoa(r.cfg.Syslog.Port))))

	// Workers must be running before the servers accept traffic: every
	// stage handler queues its work on the pool.
	r.pool.Start(ctx)

	errChan := make(chan error, 3)

	go func() {
		if err := r.listener.Serve(ctx); err != nil {
			errChan <- fmt.Errorf("trigger listener: %w", err)
		}
	}()
	go func() {
		if err := r.sftp.Serve(ctx); err != nil {
			errChan <- fmt.Errorf("sftp ingress: %w", err)
		}
	}()
	if r.admin != nil {
		go func() {
			if err := r.admin.Start(ctx); err != nil {
				errChan <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errChan:
		logger.Error("pipeline server failed, shutting down", logger.Err(err))
		serveErr = err
	}

	r.shutdown()

	logger.Info("event pipeline stopped")
	return serveErr
}

// shutdown stops the servers, drains queued work, and releases the
// collector socket. Order matters: no new triggers, then no new
// uploads, then let the queue finish.
func (r *Runtime) shutdown() {
	r.listener.Stop()
	r.sftp.Stop()

	if r.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), adminStopTimeout)
		if err := r.admin.Stop(ctx); err != nil {
			logger.Warn("admin listener shutdown error", logger.Err(err))
		}
		cancel()
	}

	r.pool.Stop(r.cfg.ShutdownTimeout)
	r.sender.Close()

	if c, ok := r.verifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("verifier shutdown error", logger.Err(err))
		}
	}
}

// WaitReady returns a channel closed once every configured server has
// bound its socket.
func (r *Runtime) WaitReady() <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		<-r.listener.WaitReady()
		<-r.sftp.WaitReady()
		if r.admin != nil {
			<-r.admin.WaitReady()
		}
		close(ready)
	}()
	return ready
}

// Bus returns the pipeline bus.
func (r *Runtime) Bus() *bus.Bus {
	return r.bus
}

// Store returns the event store.
func (r *Runtime) Store() *events.Store {
	return r.store
}

// FS returns the shared upload filesystem.
func (r *Runtime) FS() *vfs.FS {
	return r.fs
}

// ListenerAddr returns the bound trigger listener address, once ready.
func (r *Runtime) ListenerAddr() string {
	return r.listener.Addr()
}

// SFTPAddr returns the bound ingress address, once ready.
func (r *Runtime) SFTPAddr() string {
	return r.sftp.Addr()
}

// AdminAddr returns the bound admin address, or "" when disabled.
func (r *Runtime) AdminAddr() string {
	if r.admin == nil {
		return ""
	}
	return r.admin.Addr()
}
