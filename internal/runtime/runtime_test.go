package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iwplog/iwplogd/internal/device"
	"github.com/iwplog/iwplogd/internal/sftpd"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/config"
)

// testConfig returns a loopback configuration with ephemeral ports and
// a freshly generated host key.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	keyPath := filepath.Join(t.TempDir(), "host_key")
	if _, err := sftpd.GenerateHostKey(keyPath); err != nil {
		t.Fatalf("GenerateHostKey: %v", err)
	}

	cfg := config.GetDefaultConfig()
	cfg.SFTPRSAKeyfile = keyPath
	cfg.SFTPHostIP = "127.0.0.1"
	cfg.SFTPListenPort = 0
	cfg.Listener.Host = "127.0.0.1"
	cfg.Listener.Port = 0
	cfg.Admin.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestNewWiresEveryStage(t *testing.T) {
	rt, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b := rt.Bus()
	for _, tc := range []struct {
		name  string
		count int
	}{
		{"NetworkDataReceived", b.NetworkDataReceived.SubscriberCount()},
		{"CIPEventCreated", b.CIPEventCreated.SubscriberCount()},
		{"FileReceived", b.FileReceived.SubscriberCount()},
		{"ExtractionCompleted", b.ExtractionCompleted.SubscriberCount()},
		{"LogProcessingCompleted", b.LogProcessingCompleted.SubscriberCount()},
	} {
		if tc.count != 1 {
			t.Errorf("%s subscribers = %d, want 1", tc.name, tc.count)
		}
	}
}

func TestNewRejectsUnknownAuthMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.SFTPAuthMode = "ldap"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}
}

func TestNewRequiresHostKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.SFTPRSAKeyfile = filepath.Join(t.TempDir(), "absent")

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for missing host key")
	}
	if !strings.Contains(err.Error(), "iwplogd init") {
		t.Errorf("error should point at the init command, got %q", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = true
	cfg.Admin.Port = 0

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	select {
	case <-rt.WaitReady():
	case <-time.After(2 * time.Second):
		t.Fatal("servers never became ready")
	}

	if rt.ListenerAddr() == "" || rt.SFTPAddr() == "" || rt.AdminAddr() == "" {
		t.Fatalf("expected bound addresses, got %q %q %q",
			rt.ListenerAddr(), rt.SFTPAddr(), rt.AdminAddr())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v on clean shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// A second Serve on a stopped runtime is a no-op.
	if err := rt.Serve(context.Background()); err != nil {
		t.Fatalf("second Serve: %v", err)
	}
}

// credsFetcherFunc adapts a function to device.CredsFetcher.
type credsFetcherFunc func(ctx context.Context, deviceIP string) (device.Credentials, error)

func (f credsFetcherFunc) Fetch(ctx context.Context, deviceIP string) (device.Credentials, error) {
	return f(ctx, deviceIP)
}

func TestServeRunsQueuedStageWork(t *testing.T) {
	cfg := testConfig(t)

	fetched := make(chan string, 1)
	rt, err := New(cfg, WithCredsFetcher(credsFetcherFunc(
		func(_ context.Context, deviceIP string) (device.Credentials, error) {
			select {
			case fetched <- deviceIP:
			default:
			}
			return device.Credentials{}, fmt.Errorf("no credentials for %s", deviceIP)
		})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	select {
	case <-rt.WaitReady():
	case <-time.After(2 * time.Second):
		t.Fatal("servers never became ready")
	}

	// The handler chain runs synchronously up to the device stage, which
	// queues its session on the worker pool. Seeing the credentials fetch
	// proves Serve started the pool's workers.
	rt.Bus().NetworkDataReceived.Publish(context.Background(), bus.NetworkDataReceived{
		IP:        "192.0.2.9",
		Datetime:  time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		Text:      "192.0.2.9,04022024,E1,****",
		ErrorCode: "E1",
	})

	select {
	case ip := <-fetched:
		if ip != "192.0.2.9" {
			t.Errorf("credentials fetched for %q, want %q", ip, "192.0.2.9")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued device work never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenerFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listener.Transport = "carrier-pigeon"

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = rt.Serve(ctx)
	if err == nil {
		t.Fatal("expected Serve to fail on an unusable transport")
	}
	if !strings.Contains(err.Error(), "trigger listener") {
		t.Errorf("error should name the failed server, got %q", err)
	}
}
