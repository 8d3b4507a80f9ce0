package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwplog/iwplogd/internal/work"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/config"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// fakeRunner records Run calls and returns a canned result.
type fakeRunner struct {
	mu         sync.Mutex
	deviceIPs  []string
	creds      []Credentials
	commands   []string
	transcript Transcript
	err        error
}

func (f *fakeRunner) Run(_ context.Context, deviceIP string, creds Credentials, command string) (Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceIPs = append(f.deviceIPs, deviceIP)
	f.creds = append(f.creds, creds)
	f.commands = append(f.commands, command)
	transcript := f.transcript
	transcript.Command = command
	return transcript, f.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// startCredsServer serves fixed credentials for every device.
func startCredsServer(t *testing.T, creds Credentials) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(creds)
	}))
	t.Cleanup(server.Close)
	return server
}

func testOptions() Options {
	return Options{
		IngressIP:       "10.0.0.10",
		CommandTemplate: config.DefaultDeviceCommandTemplate,
		Profile:         "iwp-controller",
		LogDir:          "/device_logs",
	}
}

// addEvent seeds the store with one record and returns its ID.
func addEvent(t *testing.T, store *events.Store, ip string) string {
	t.Helper()
	dt := time.Date(2024, 4, 2, 13, 45, 10, 0, time.UTC)
	record, err := store.Add(context.Background(), ip, dt, "t", "E7")
	require.NoError(t, err)
	return record.ID
}

func TestManagerIssuesUploadCommand(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	fs := vfs.New()
	server := startCredsServer(t, Credentials{Username: "operator", Password: "pw"})
	runner := &fakeRunner{transcript: Transcript{Stdout: "ok\n", Duration: 20 * time.Millisecond}}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, fs, nil, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	require.Equal(t, 1, runner.calls())
	assert.Equal(t, "192.0.2.7", runner.deviceIPs[0])
	assert.Equal(t, Credentials{Username: "operator", Password: "pw"}, runner.creds[0])
	assert.Equal(t, fmt.Sprintf("copy event-logging upload tftp://10.0.0.10/%s.tar.gz", id), runner.commands[0])

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.GeneralLogs, 1)
	assert.Contains(t, record.GeneralLogs[0], "upload command issued")
}

func TestManagerWritesTranscript(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	fs := vfs.New()
	server := startCredsServer(t, Credentials{Username: "operator", Password: "topsecret"})
	runner := &fakeRunner{transcript: Transcript{Stdout: "ok\n"}}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, fs, nil, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	entries, err := fs.ListDir(ctx, "/device_logs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name, "device_192.0.2.7_"))
	assert.True(t, strings.HasSuffix(entries[0].Name, ".log"))

	data, err := fs.ReadFile(ctx, "/device_logs/"+entries[0].Name)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, id)
	assert.Contains(t, content, "operator")
	assert.Contains(t, content, "upload tftp://10.0.0.10/")
	assert.Contains(t, content, "ok\n")
	// The password must never reach the transcript.
	assert.NotContains(t, content, "topsecret")
}

func TestManagerNoCredentials(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	fs := vfs.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	runner := &fakeRunner{}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, fs, nil, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	assert.Zero(t, runner.calls(), "runner must not be dialed without credentials")

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.GeneralLogs, 1)
	assert.Contains(t, record.GeneralLogs[0], "aborted")
}

func TestManagerDialError(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	fs := vfs.New()
	server := startCredsServer(t, Credentials{Username: "operator"})
	runner := &fakeRunner{err: fmt.Errorf("%w: connection refused", ErrDialFailed)}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, fs, nil, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	// No session reached the device, so no transcript directory appears.
	_, err := fs.ListDir(ctx, "/device_logs")
	require.Error(t, err)

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.GeneralLogs, 1)
	assert.Contains(t, record.GeneralLogs[0], "failed")
}

func TestManagerCommandError(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	fs := vfs.New()
	server := startCredsServer(t, Credentials{Username: "operator"})
	runner := &fakeRunner{
		transcript: Transcript{Stderr: "invalid command\n", ExitCode: 2},
		err:        fmt.Errorf("%w: exit 2", ErrCommandFailed),
	}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, fs, nil, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	// The failed session still leaves a transcript with the error.
	entries, err := fs.ListDir(ctx, "/device_logs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := fs.ReadFile(ctx, "/device_logs/"+entries[0].Name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "invalid command")
	assert.Contains(t, string(data), "exit:     2")

	record, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.GeneralLogs, 1)
	assert.Contains(t, record.GeneralLogs[0], "failed")
}

func TestManagerUnknownEvent(t *testing.T) {
	ctx := context.Background()
	store := events.NewStore(nil)
	server := startCredsServer(t, Credentials{Username: "operator"})
	runner := &fakeRunner{}

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, vfs.New(), nil, nil)
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: "192.0.2.9_2024-04-02T00:00:00"})

	assert.Zero(t, runner.calls())
}

func TestManagerOffloadsToPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := events.NewStore(nil)
	server := startCredsServer(t, Credentials{Username: "operator"})
	runner := &fakeRunner{}

	pool := work.NewPool(work.PoolConfig{Workers: 1, QueueSize: 4})
	pool.Start(ctx)
	t.Cleanup(func() { pool.Stop(2 * time.Second) })

	m := NewManager(testOptions(), NewCredsClient(server.URL, 2*time.Second), runner, store, vfs.New(), pool, nil)

	id := addEvent(t, store, "192.0.2.7")
	m.HandleEventCreated(ctx, bus.CIPEventCreated{EventID: id})

	deadline := time.After(2 * time.Second)
	for runner.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("session never ran on the pool")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
