// Package sftpd implements the embedded SSH/SFTP ingress devices upload
// their event archives to. Uploads land in the process-wide VirtualFS;
// a handle closed after a write publishes FileReceived on the bus.
//
// The server speaks SFTP only. Shell, exec and non-session channels are
// rejected, and passwords are checked by the configured verifier.
package sftpd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/pkg/auth"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

const (
	// defaultMaxSessions limits concurrent inbound connections. One
	// device uploads one archive per event, so the ingress stays small.
	defaultMaxSessions = 32

	// defaultDrainTimeout bounds how long Stop waits for sessions to
	// finish before closing their sockets.
	defaultDrainTimeout = 5 * time.Second
)

// Options configures the SFTP ingress.
type Options struct {
	// Host is the bind address.
	Host string

	// Port is the bind port. Port 0 binds an ephemeral port.
	Port int

	// HostKey identifies this server to connecting devices.
	HostKey ssh.Signer

	// MaxSessions limits concurrent inbound connections.
	// Default: 32
	MaxSessions int

	// DrainTimeout bounds the graceful drain in Stop.
	// Default: 5s
	DrainTimeout time.Duration
}

// Server is the inbound SSH/SFTP endpoint. Every authenticated session
// operates on the same shared filesystem.
type Server struct {
	opts     Options
	verifier auth.Verifier
	fs       *vfs.FS
	bus      *bus.Bus
	metrics  metrics.SFTPMetrics

	sshConfig *ssh.ServerConfig

	listener      net.Listener
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	sessSemaphore chan struct{}

	// activeConns tracks session sockets for forced closure when the
	// drain times out.
	activeConns sync.Map
}

// NewServer creates the ingress. The verifier decides which passwords
// are accepted; sm may be nil when metrics are disabled.
func NewServer(opts Options, verifier auth.Verifier, fs *vfs.FS, b *bus.Bus, sm metrics.SFTPMetrics) *Server {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}

	return &Server{
		opts:          opts,
		verifier:      verifier,
		fs:            fs,
		bus:           b,
		metrics:       sm,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
		sessSemaphore: make(chan struct{}, opts.MaxSessions),
	}
}

// Serve binds the listener and blocks until the context is cancelled or
// Stop is called. Once the socket is bound, WaitReady() unblocks.
func (s *Server) Serve(ctx context.Context) error {
	if s.opts.HostKey == nil {
		return errors.New("sftp ingress requires a host key")
	}
	s.sshConfig = s.buildSSHConfig(ctx)

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen TCP %s: %w", addr, err)
	}
	s.listener = listener

	// Signal that the socket is bound
	close(s.listenerReady)

	logger.Info("sftp ingress started",
		logger.ListenAddr(listener.Addr().String()),
		logger.AuthMode(s.verifier.Name()))

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	// Monitor context cancellation
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// WaitReady returns a channel that is closed once the listener socket is
// bound. Callers should select on it with a timeout to detect startup
// failures.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the bound listener address (for tests). Empty until Serve
// has bound the socket.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// buildSSHConfig assembles the handshake configuration. The password
// callback closes over ctx so verifier lookups stop on shutdown.
func (s *Server) buildSSHConfig(ctx context.Context) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-iwplogd",
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if err := s.verifier.VerifyPassword(ctx, meta.User(), string(password)); err != nil {
				if s.metrics != nil {
					s.metrics.RecordAuthFailure(s.verifier.Name())
				}
				logger.Warn("sftp authentication rejected",
					logger.Username(meta.User()),
					logger.ClientIP(meta.RemoteAddr().String()),
					logger.AuthMode(s.verifier.Name()),
					logger.Err(err))
				return nil, fmt.Errorf("authentication failed for %q", meta.User())
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(s.opts.HostKey)
	return cfg
}

// acceptLoop hands each inbound connection to a session goroutine.
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("sftp accept error", logger.Err(err))
				return
			}
		}

		select {
		case s.sessSemaphore <- struct{}{}:
		default:
			logger.Warn("sftp session limit reached, rejecting",
				logger.ClientIP(conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.sessSemaphore }()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// handleConn performs the SSH handshake and serves the session's
// channels until the peer disconnects.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	addr := conn.RemoteAddr().String()
	s.activeConns.Store(addr, conn)
	defer s.activeConns.Delete(addr)

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		// Failed authentications surface here as handshake errors;
		// the password callback has already logged them.
		logger.Debug("ssh handshake failed", logger.ClientIP(addr), logger.Err(err))
		return
	}
	defer func() { _ = sconn.Close() }()

	sess := &sessionInfo{
		ID:     uuid.NewString(),
		User:   sconn.User(),
		Remote: addr,
	}

	if s.metrics != nil {
		s.metrics.RecordSessionAccepted()
		defer s.metrics.RecordSessionClosed()
	}

	logger.Info("sftp session established",
		logger.SessionID(sess.ID),
		logger.Username(sess.User),
		logger.ClientIP(addr))
	defer logger.Info("sftp session closed",
		logger.SessionID(sess.ID),
		logger.Username(sess.User))

	// Out-of-band requests (keepalives etc.) need no replies beyond the
	// default rejection.
	go ssh.DiscardRequests(reqs)

	var sessionWg sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}

		ch, requests, err := newCh.Accept()
		if err != nil {
			logger.Debug("sftp channel accept failed",
				logger.SessionID(sess.ID), logger.Err(err))
			continue
		}

		sessionWg.Add(1)
		go func() {
			defer sessionWg.Done()
			s.handleChannel(ctx, sess, ch, requests)
		}()
	}
	sessionWg.Wait()
}

// handleChannel answers the channel's requests. Exactly one sftp
// subsystem may be started per channel; everything else is refused.
func (s *Server) handleChannel(ctx context.Context, sess *sessionInfo, ch ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	var subsystemWg sync.WaitGroup
	defer subsystemWg.Wait()

	started := false
	for req := range requests {
		if req.Type != "subsystem" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Name string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" || started {
			_ = req.Reply(false, nil)
			continue
		}
		started = true
		_ = req.Reply(true, nil)

		subsystemWg.Add(1)
		go func() {
			defer subsystemWg.Done()
			s.serveSubsystem(ctx, sess, ch)
		}()
	}
}

// serveSubsystem runs the SFTP request server over the channel until the
// client closes it.
func (s *Server) serveSubsystem(ctx context.Context, sess *sessionInfo, ch ssh.Channel) {
	handlers := newSessionHandlers(ctx, s.fs, s.bus, s.metrics, sess)
	server := sftp.NewRequestServer(ch, handlers.handlers())

	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("sftp subsystem ended",
			logger.SessionID(sess.ID), logger.Err(err))
	}
	_ = server.Close()
}

// Stop shuts the ingress down. New connections are refused immediately;
// active sessions get DrainTimeout to finish before their sockets are
// closed.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.opts.DrainTimeout):
	}

	closed := 0
	s.activeConns.Range(func(_, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			_ = conn.Close()
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Warn("sftp drain timed out, closed remaining sessions",
			"sessions", closed)
	}
	<-done
}
