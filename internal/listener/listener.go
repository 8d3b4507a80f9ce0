// Package listener implements the trigger ingress. A Server binds the
// configured transport and publishes every validated PLC trigger on the
// bus as NetworkDataReceived.
//
// The UDP path treats each datagram as one ASCII-form trigger. The TCP
// path treats each connection as one binary-form frame: the device
// writes the frame and closes, so the frame ends at EOF.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/trigger"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/config"
	"github.com/iwplog/iwplogd/pkg/metrics"
)

// maxTCPConns is the maximum number of concurrent trigger connections.
// Devices send one short frame each, so 64 is generous.
const maxTCPConns = 64

// maxFrameSize bounds a single TCP trigger frame. A frame is a 16-byte
// header plus a NUL-padded secret, far below this.
const maxFrameSize = 4096

// readChunkSize is the per-read buffer for TCP frames.
const readChunkSize = 1024

// connReadTimeout bounds how long a device may take to deliver one frame.
const connReadTimeout = 10 * time.Second

// Server listens for trigger messages on one transport.
//
// UDP has no framing beyond the datagram itself. TCP reads the whole
// connection as one frame, in readChunkSize pieces.
type Server struct {
	config    config.ListenerConfig
	validator *trigger.Validator
	bus       *bus.Bus
	metrics   metrics.PipelineMetrics

	tcpListener   net.Listener
	udpConn       *net.UDPConn
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	connSemaphore chan struct{}
}

// NewServer creates a trigger listener. The validator carries the shared
// secret; pm may be nil when metrics are disabled.
func NewServer(cfg config.ListenerConfig, v *trigger.Validator, b *bus.Bus, pm metrics.PipelineMetrics) *Server {
	return &Server{
		config:        cfg,
		validator:     v,
		bus:           b,
		metrics:       pm,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
		connSemaphore: make(chan struct{}, maxTCPConns),
	}
}

// Serve binds the configured transport and blocks until the context is
// cancelled or Stop is called. Once the socket is bound, WaitReady()
// unblocks.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	switch s.config.Transport {
	case "udp":
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("resolve UDP %s: %w", addr, err)
		}
		udpConn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return fmt.Errorf("listen UDP %s: %w", addr, err)
		}
		s.udpConn = udpConn
	case "tcp":
		tcpListener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen TCP %s: %w", addr, err)
		}
		s.tcpListener = tcpListener
	default:
		return fmt.Errorf("unknown trigger transport %q", s.config.Transport)
	}

	// Signal that the socket is bound
	close(s.listenerReady)

	logger.Info("trigger listener started",
		logger.Transport(s.config.Transport),
		logger.ListenAddr(s.Addr()))

	s.wg.Add(1)
	if s.udpConn != nil {
		go s.serveUDP(ctx)
	} else {
		go s.serveTCP(ctx)
	}

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

// serveUDP reads datagrams and ingests each one as an ASCII trigger.
func (s *Server) serveUDP(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, 65535)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// Short deadline so the loop can check for shutdown
		if err := s.udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("trigger UDP deadline error", logger.Err(err))
				continue
			}
		}

		n, clientAddr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("trigger UDP read error", logger.Err(err))
				continue
			}
		}

		// Copy the payload since buf is reused
		payload := make([]byte, n)
		copy(payload, buf[:n])

		s.ingest(ctx, "udp", clientAddr.String(), payload)
	}
}

// serveTCP accepts trigger connections and hands each to a goroutine.
func (s *Server) serveTCP(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("trigger TCP accept error", logger.Err(err))
				return
			}
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			logger.Debug("trigger connection limit reached, rejecting",
				logger.ClientIP(conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSemaphore }()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// handleConn reads one binary trigger frame from a connection. The frame
// ends at EOF since devices close after writing.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	clientAddr := conn.RemoteAddr().String()

	if err := conn.SetReadDeadline(time.Now().Add(connReadTimeout)); err != nil {
		logger.Debug("trigger TCP deadline error", logger.ClientIP(clientAddr), logger.Err(err))
		return
	}

	frame := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			frame = append(frame, chunk[:n]...)
			if len(frame) > maxFrameSize {
				logger.Warn("trigger frame too large, dropping",
					logger.ClientIP(clientAddr),
					logger.PayloadLen(len(frame)))
				if s.metrics != nil {
					s.metrics.RecordTrigger("tcp", "rejected")
				}
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Debug("trigger connection timed out", logger.ClientIP(clientAddr))
			} else {
				logger.Debug("trigger TCP read error", logger.ClientIP(clientAddr), logger.Err(err))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}
	}

	if len(frame) == 0 {
		logger.Debug("empty trigger connection", logger.ClientIP(clientAddr))
		return
	}

	s.ingest(ctx, "tcp", clientAddr, frame)
}

// ingest validates one raw trigger payload and publishes it. Invalid
// payloads are dropped with a log line and the listener keeps serving.
func (s *Server) ingest(ctx context.Context, transport, clientAddr string, payload []byte) {
	var (
		msg trigger.Message
		err error
	)
	if transport == "udp" {
		msg, err = s.validator.ValidateASCII(payload)
	} else {
		msg, err = s.validator.ValidateBinary(payload)
	}
	if err != nil {
		logger.Error("dropping invalid trigger",
			logger.Transport(transport),
			logger.ClientIP(clientAddr),
			logger.PayloadLen(len(payload)),
			logger.Err(err))
		if s.metrics != nil {
			s.metrics.RecordTrigger(transport, "rejected")
		}
		return
	}

	logger.Info("trigger accepted",
		logger.Transport(transport),
		logger.ClientIP(clientAddr),
		logger.DeviceIP(msg.IP),
		logger.ErrorCode(msg.ErrorCode))
	if s.metrics != nil {
		s.metrics.RecordTrigger(transport, "accepted")
	}

	s.bus.NetworkDataReceived.Publish(ctx, bus.NetworkDataReceived{
		IP:        msg.IP,
		Datetime:  msg.Timestamp,
		Text:      triggerText(msg),
		ErrorCode: msg.ErrorCode,
	})
}

// triggerText renders the canonical ASCII line for the record's free-form
// description. Both wire forms normalise to it. The shared secret is
// masked so the status surfaces never echo it.
func triggerText(msg trigger.Message) string {
	return fmt.Sprintf("%s,%s,%s,****",
		msg.IP, msg.Timestamp.Format("01022006"), msg.ErrorCode)
}

// Stop shuts the listener down and waits for the serve loop and any
// in-flight connection handlers to finish.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.tcpListener != nil {
			_ = s.tcpListener.Close()
		}
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
	})
	s.wg.Wait()
}

// Addr returns the bound listener address (for tests). Empty until Serve
// has bound the socket.
func (s *Server) Addr() string {
	if s.tcpListener != nil {
		return s.tcpListener.Addr().String()
	}
	if s.udpConn != nil {
		return s.udpConn.LocalAddr().String()
	}
	return ""
}
