package listener

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/iwplog/iwplogd/internal/trigger"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/config"
)

const testSecret = "s3cr3t"

// ============================================================================
// Test Helpers
// ============================================================================

// startTestServer starts a listener on a random port and returns it along
// with a channel receiving every published trigger. The server is stopped
// automatically when the test completes.
func startTestServer(t *testing.T, transport string) (*Server, chan bus.NetworkDataReceived) {
	t.Helper()

	b := bus.New()
	events := make(chan bus.NetworkDataReceived, 16)
	b.NetworkDataReceived.Subscribe(func(_ context.Context, payload bus.NetworkDataReceived) {
		events <- payload
	})

	srv := NewServer(config.ListenerConfig{
		Host:      "127.0.0.1",
		Port:      0,
		Transport: transport,
	}, trigger.NewValidator(testSecret, ""), b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case <-srv.WaitReady():
	case err := <-serveErr:
		cancel()
		t.Fatalf("listener failed to start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("listener not ready after 2s")
	}

	t.Cleanup(func() {
		cancel()
		srv.Stop()
		<-serveErr
	})

	return srv, events
}

// sendUDP writes one datagram to the listener.
func sendUDP(t *testing.T, addr string, payload []byte) {
	t.Helper()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial UDP: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write UDP: %v", err)
	}
}

// sendTCP writes one frame and closes the connection, as a device would.
func sendTCP(t *testing.T, addr string, payload []byte) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial TCP: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write TCP: %v", err)
	}
}

// waitEvent blocks until a trigger is published or the deadline passes.
func waitEvent(t *testing.T, events <-chan bus.NetworkDataReceived) bus.NetworkDataReceived {
	t.Helper()

	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger published within 2s")
		return bus.NetworkDataReceived{}
	}
}

// assertNoEvent verifies that nothing reaches the bus for a short while.
func assertNoEvent(t *testing.T, events <-chan bus.NetworkDataReceived) {
	t.Helper()

	select {
	case e := <-events:
		t.Fatalf("unexpected trigger published: %+v", e)
	case <-time.After(300 * time.Millisecond):
	}
}

// ============================================================================
// UDP Tests
// ============================================================================

func TestServerUDPAcceptsValidTrigger(t *testing.T) {
	srv, events := startTestServer(t, "udp")

	faultDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	payload := trigger.EncodeASCII("192.0.2.7", faultDate, "E042", testSecret)
	sendUDP(t, srv.Addr(), payload)

	e := waitEvent(t, events)
	if e.IP != "192.0.2.7" {
		t.Errorf("IP = %q, want %q", e.IP, "192.0.2.7")
	}
	if !e.Datetime.Equal(faultDate) {
		t.Errorf("Datetime = %v, want %v", e.Datetime, faultDate)
	}
	if e.ErrorCode != "E042" {
		t.Errorf("ErrorCode = %q, want %q", e.ErrorCode, "E042")
	}
	want := "192.0.2.7,04022024,E042,****"
	if e.Text != want {
		t.Errorf("Text = %q, want %q", e.Text, want)
	}
}

func TestServerMasksSecretInPublishedText(t *testing.T) {
	srv, events := startTestServer(t, "udp")

	faultDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	sendUDP(t, srv.Addr(), trigger.EncodeASCII("192.0.2.7", faultDate, "E042", testSecret))

	e := waitEvent(t, events)
	if strings.Contains(e.Text, testSecret) {
		t.Errorf("Text = %q leaks the shared secret", e.Text)
	}
	if !strings.HasSuffix(e.Text, ",****") {
		t.Errorf("Text = %q, want masked secret suffix", e.Text)
	}
}

func TestServerUDPRejectsBadSecret(t *testing.T) {
	srv, events := startTestServer(t, "udp")

	faultDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	sendUDP(t, srv.Addr(), trigger.EncodeASCII("192.0.2.7", faultDate, "E042", "wrong"))

	assertNoEvent(t, events)
}

func TestServerUDPRejectsMalformedPayload(t *testing.T) {
	srv, events := startTestServer(t, "udp")

	sendUDP(t, srv.Addr(), []byte("not,a,trigger\n"))

	assertNoEvent(t, events)
}

func TestServerUDPMultipleDatagrams(t *testing.T) {
	srv, events := startTestServer(t, "udp")

	faultDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	ips := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}
	for _, ip := range ips {
		sendUDP(t, srv.Addr(), trigger.EncodeASCII(ip, faultDate, "E1", testSecret))
	}

	seen := make(map[string]bool)
	for range ips {
		seen[waitEvent(t, events).IP] = true
	}
	for _, ip := range ips {
		if !seen[ip] {
			t.Errorf("no trigger published for %s", ip)
		}
	}
}

// ============================================================================
// TCP Tests
// ============================================================================

func TestServerTCPAcceptsValidTrigger(t *testing.T) {
	srv, events := startTestServer(t, "tcp")

	faultTime := time.Date(2024, 4, 2, 13, 45, 10, 0, time.UTC)
	frame, err := trigger.EncodeBinary("10.20.30.40", faultTime, "E7", testSecret)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	sendTCP(t, srv.Addr(), frame)

	e := waitEvent(t, events)
	if e.IP != "10.20.30.40" {
		t.Errorf("IP = %q, want %q", e.IP, "10.20.30.40")
	}
	if !e.Datetime.Equal(faultTime) {
		t.Errorf("Datetime = %v, want %v", e.Datetime, faultTime)
	}
	if e.ErrorCode != "E7" {
		t.Errorf("ErrorCode = %q, want %q", e.ErrorCode, "E7")
	}
}

func TestServerTCPChunkedDelivery(t *testing.T) {
	srv, events := startTestServer(t, "tcp")

	faultTime := time.Date(2024, 4, 2, 13, 45, 10, 0, time.UTC)
	frame, err := trigger.EncodeBinary("10.20.30.40", faultTime, "E7", testSecret)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial TCP: %v", err)
	}
	if _, err := conn.Write(frame[:10]); err != nil {
		t.Fatalf("write first chunk: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := conn.Write(frame[10:]); err != nil {
		t.Fatalf("write second chunk: %v", err)
	}
	_ = conn.Close()

	e := waitEvent(t, events)
	if e.IP != "10.20.30.40" {
		t.Errorf("IP = %q, want %q", e.IP, "10.20.30.40")
	}
}

func TestServerTCPRejectsShortFrame(t *testing.T) {
	srv, events := startTestServer(t, "tcp")

	sendTCP(t, srv.Addr(), []byte{1, 2, 3, 4, 5})

	assertNoEvent(t, events)
}

func TestServerTCPRejectsBadSecret(t *testing.T) {
	srv, events := startTestServer(t, "tcp")

	faultTime := time.Date(2024, 4, 2, 13, 45, 10, 0, time.UTC)
	frame, err := trigger.EncodeBinary("10.20.30.40", faultTime, "E7", "wrong")
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	sendTCP(t, srv.Addr(), frame)

	assertNoEvent(t, events)
}

func TestServerTCPRejectsOversizeFrame(t *testing.T) {
	srv, events := startTestServer(t, "tcp")

	sendTCP(t, srv.Addr(), make([]byte, maxFrameSize+512))

	assertNoEvent(t, events)
}

// ============================================================================
// Transport Isolation
// ============================================================================

func TestMalformedTCPDoesNotAffectConcurrentUDP(t *testing.T) {
	udpSrv, udpEvents := startTestServer(t, "udp")
	tcpSrv, tcpEvents := startTestServer(t, "tcp")

	faultDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	valid := trigger.EncodeASCII("192.0.2.7", faultDate, "E042", testSecret)

	// Send both payloads at once; each outcome must be independent of
	// the other transport.
	sendErrs := make(chan error, 2)
	go func() {
		conn, err := net.DialTimeout("tcp", tcpSrv.Addr(), 2*time.Second)
		if err != nil {
			sendErrs <- err
			return
		}
		_, err = conn.Write([]byte{0xde, 0xad, 0xbe, 0xef})
		_ = conn.Close()
		sendErrs <- err
	}()
	go func() {
		conn, err := net.Dial("udp", udpSrv.Addr())
		if err != nil {
			sendErrs <- err
			return
		}
		_, err = conn.Write(valid)
		_ = conn.Close()
		sendErrs <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-sendErrs; err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	e := waitEvent(t, udpEvents)
	if e.IP != "192.0.2.7" {
		t.Errorf("IP = %q, want %q", e.IP, "192.0.2.7")
	}
	assertNoEvent(t, tcpEvents)
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestServerGracefulShutdown(t *testing.T) {
	srv, _ := startTestServer(t, "tcp")

	addr := srv.Addr()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("should connect before shutdown: %v", err)
	}
	_ = conn.Close()

	srv.Stop()

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Error("TCP connection should fail after shutdown")
	}
}

func TestServerUnknownTransport(t *testing.T) {
	srv := NewServer(config.ListenerConfig{
		Host:      "127.0.0.1",
		Port:      0,
		Transport: "sctp",
	}, trigger.NewValidator(testSecret, ""), bus.New(), nil)

	if err := srv.Serve(context.Background()); err == nil {
		t.Fatal("Serve should reject an unknown transport")
	}
}

func TestServerAddr(t *testing.T) {
	srv, _ := startTestServer(t, "udp")

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() should return non-empty address")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Errorf("invalid address format: %v", err)
	}
	if port == "0" {
		t.Error("port should not be 0")
	}
}
