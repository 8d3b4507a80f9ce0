package sftpd

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/iwplog/iwplogd/pkg/auth"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// ============================================================================
// Test Helpers
// ============================================================================

// The host key is expensive to generate, so the suite shares one.
var (
	testKeyOnce   sync.Once
	testKeySigner ssh.Signer
	testKeyErr    error
)

func testHostKey(t *testing.T) ssh.Signer {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			testKeyErr = err
			return
		}
		testKeySigner, testKeyErr = ssh.NewSignerFromKey(key)
	})
	if testKeyErr != nil {
		t.Fatalf("generate host key: %v", testKeyErr)
	}
	return testKeySigner
}

// startIngress starts a server on a random port and returns it along with
// its filesystem and a channel receiving every published FileReceived.
// The server is stopped automatically when the test completes.
func startIngress(t *testing.T, verifier auth.Verifier) (*Server, *vfs.FS, chan bus.FileReceived) {
	t.Helper()

	fs := vfs.New()
	b := bus.New()
	received := make(chan bus.FileReceived, 16)
	b.FileReceived.Subscribe(func(_ context.Context, payload bus.FileReceived) {
		received <- payload
	})

	srv := NewServer(Options{
		Host:         "127.0.0.1",
		Port:         0,
		HostKey:      testHostKey(t),
		DrainTimeout: 500 * time.Millisecond,
	}, verifier, fs, b, nil)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(context.Background()) }()

	select {
	case <-srv.WaitReady():
	case err := <-serveErr:
		t.Fatalf("ingress failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingress not ready after 2s")
	}

	t.Cleanup(func() {
		srv.Stop()
		<-serveErr
	})

	return srv, fs, received
}

// dialSSH opens an authenticated SSH connection and closes it at cleanup.
func dialSSH(t *testing.T, addr, user, password string) *ssh.Client {
	t.Helper()

	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("ssh dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialClient connects an SFTP client to the server, as a device would.
func dialClient(t *testing.T, addr string) *sftp.Client {
	t.Helper()

	conn := dialSSH(t, addr, "plc-07", "fieldpass")
	client, err := sftp.NewClient(conn)
	if err != nil {
		t.Fatalf("sftp client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uploadFileTo writes content to path over the client and closes the handle.
func uploadFileTo(t *testing.T, client *sftp.Client, path string, content []byte) {
	t.Helper()

	f, err := client.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func waitEvent(t *testing.T, received <-chan bus.FileReceived) bus.FileReceived {
	t.Helper()

	select {
	case ev := <-received:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no FileReceived within 2s")
		return bus.FileReceived{}
	}
}

// assertNoEvent asserts that nothing was published. The server publishes
// before it acknowledges a close, so by the time the client's Close
// returns any event is already buffered.
func assertNoEvent(t *testing.T, received <-chan bus.FileReceived) {
	t.Helper()

	select {
	case ev := <-received:
		t.Fatalf("unexpected FileReceived for %s", ev.Path)
	default:
	}
}

// ============================================================================
// Upload Latch
// ============================================================================

func TestUploadPublishesFileReceived(t *testing.T) {
	srv, fs, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	content := []byte("gzip tar payload")
	uploadFileTo(t, client, "/10.1.2.3_2024-01-02T03:04:05.tar.gz", content)

	ev := waitEvent(t, received)
	if ev.Path != "/10.1.2.3_2024-01-02T03:04:05.tar.gz" {
		t.Errorf("event path = %q, want %q", ev.Path, "/10.1.2.3_2024-01-02T03:04:05.tar.gz")
	}
	if ev.FS != fs {
		t.Error("event carries a different filesystem")
	}

	got, err := fs.ReadFile(context.Background(), ev.Path)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("stored content = %q, want %q", got, content)
	}
}

func TestWriteOnlyUploadPublishes(t *testing.T) {
	srv, fs, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	f, err := client.OpenFile("/ev.tar.gz", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte("archive")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ev := waitEvent(t, received)
	if ev.Path != "/ev.tar.gz" {
		t.Errorf("event path = %q, want /ev.tar.gz", ev.Path)
	}

	got, err := fs.ReadFile(context.Background(), "/ev.tar.gz")
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(got) != "archive" {
		t.Errorf("stored content = %q, want %q", got, "archive")
	}
}

func TestDownloadDoesNotPublish(t *testing.T) {
	srv, fs, received := startIngress(t, auth.Open{})

	if err := fs.WriteFile(context.Background(), "/report.txt", []byte("summary")); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	client := dialClient(t, srv.Addr())
	f, err := client.Open("/report.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if string(got) != "summary" {
		t.Errorf("downloaded %q, want %q", got, "summary")
	}
	assertNoEvent(t, received)
}

func TestReadBackAfterWriteDoesNotPublish(t *testing.T) {
	srv, _, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	f, err := client.OpenFile("/ev.tar.gz", os.O_RDWR|os.O_CREATE)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte("archive")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "archive" {
		t.Errorf("read back %q, want %q", got, "archive")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The handle's final data operation was a read, so the upload is not
	// treated as complete.
	assertNoEvent(t, received)
}

func TestConcurrentUploads(t *testing.T) {
	srv, _, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	if err := client.Mkdir("/burst"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/burst/ev-%d.tar.gz", i)
			f, err := client.Create(path)
			if err != nil {
				t.Errorf("create %s: %v", path, err)
				return
			}
			if _, err := f.Write([]byte(path)); err != nil {
				t.Errorf("write %s: %v", path, err)
				return
			}
			if err := f.Close(); err != nil {
				t.Errorf("close %s: %v", path, err)
			}
		}(i)
	}
	wg.Wait()

	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		want[fmt.Sprintf("/burst/ev-%d.tar.gz", i)] = true
	}
	for i := 0; i < n; i++ {
		ev := waitEvent(t, received)
		if !want[ev.Path] {
			t.Errorf("unexpected or duplicate event path %q", ev.Path)
		}
		delete(want, ev.Path)
	}
	for path := range want {
		t.Errorf("no event for %s", path)
	}
}

// ============================================================================
// Directory and Namespace Operations
// ============================================================================

func TestMkdirListStat(t *testing.T) {
	srv, _, _ := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	if err := client.Mkdir("/incoming"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := client.Mkdir("/incoming/sub"); err != nil {
		t.Fatalf("mkdir sub: %v", err)
	}
	uploadFileTo(t, client, "/incoming/a.log", []byte("alpha"))

	entries, err := client.ReadDir("/incoming")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name() != "a.log" || entries[1].Name() != "sub" {
		t.Errorf("entries = [%s, %s], want [a.log, sub]", entries[0].Name(), entries[1].Name())
	}
	if !entries[0].Mode().IsRegular() {
		t.Error("a.log is not a regular file")
	}
	if entries[0].Size() != 5 {
		t.Errorf("a.log size = %d, want 5", entries[0].Size())
	}
	if !entries[1].IsDir() {
		t.Error("sub is not a directory")
	}

	info, err := client.Stat("/incoming/a.log")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 5 {
		t.Errorf("stat size = %d, want 5", info.Size())
	}
}

func TestRenameAndRemove(t *testing.T) {
	srv, _, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	uploadFileTo(t, client, "/ev.partial", []byte("data"))
	waitEvent(t, received)

	if err := client.Rename("/ev.partial", "/ev.tar.gz"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := client.Stat("/ev.partial"); !os.IsNotExist(err) {
		t.Errorf("stat old path after rename: %v, want not-exist", err)
	}
	if _, err := client.Stat("/ev.tar.gz"); err != nil {
		t.Errorf("stat new path after rename: %v", err)
	}

	if err := client.Remove("/ev.tar.gz"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := client.Stat("/ev.tar.gz"); !os.IsNotExist(err) {
		t.Errorf("stat after remove: %v, want not-exist", err)
	}
}

func TestSymlinkAndReadlink(t *testing.T) {
	srv, _, _ := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	uploadFileTo(t, client, "/real.log", []byte("x"))

	if err := client.Symlink("/real.log", "/link.log"); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	target, err := client.ReadLink("/link.log")
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "/real.log" {
		t.Errorf("readlink = %q, want /real.log", target)
	}
}

func TestSetstat(t *testing.T) {
	srv, fs, _ := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())
	ctx := context.Background()

	uploadFileTo(t, client, "/f.log", []byte("12345"))

	t.Run("chmod", func(t *testing.T) {
		if err := client.Chmod("/f.log", 0o640); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		attr, err := fs.Stat(ctx, "/f.log")
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if attr.Perm() != 0o640 {
			t.Errorf("perm = %o, want 640", attr.Perm())
		}
	})

	t.Run("chtimes", func(t *testing.T) {
		mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		if err := client.Chtimes("/f.log", mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		attr, err := fs.Stat(ctx, "/f.log")
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if attr.Mtime.Unix() != mtime.Unix() {
			t.Errorf("mtime = %v, want %v", attr.Mtime, mtime)
		}
	})

	t.Run("truncate", func(t *testing.T) {
		if err := client.Truncate("/f.log", 3); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		attr, err := fs.Stat(ctx, "/f.log")
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if attr.Size != 3 {
			t.Errorf("size = %d, want 3", attr.Size)
		}
	})
}

// ============================================================================
// Error Paths
// ============================================================================

func TestStatMissingFile(t *testing.T) {
	srv, _, _ := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	if _, err := client.Stat("/nope"); !os.IsNotExist(err) {
		t.Errorf("stat missing = %v, want not-exist", err)
	}
}

func TestCreateUnderMissingParent(t *testing.T) {
	srv, _, received := startIngress(t, auth.Open{})
	client := dialClient(t, srv.Addr())

	if _, err := client.Create("/missing/ev.tar.gz"); !os.IsNotExist(err) {
		t.Errorf("create under missing dir = %v, want not-exist", err)
	}
	assertNoEvent(t, received)
}

// ============================================================================
// Session Admission
// ============================================================================

// rejectAll refuses every password.
type rejectAll struct{}

func (rejectAll) VerifyPassword(context.Context, string, string) error { return auth.ErrAuthFailed }
func (rejectAll) Name() string                                         { return "reject" }

func TestAuthFailureClosesConnection(t *testing.T) {
	srv, _, _ := startIngress(t, rejectAll{})

	_, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            "plc-07",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err == nil {
		t.Fatal("dial succeeded with rejected credentials")
	}
}

func TestExecRequestRejected(t *testing.T) {
	srv, _, _ := startIngress(t, auth.Open{})
	conn := dialSSH(t, srv.Addr(), "plc-07", "fieldpass")

	sess, err := conn.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Run("/bin/true"); err == nil {
		t.Fatal("exec request was accepted")
	}
}

func TestNonSFTPSubsystemRejected(t *testing.T) {
	srv, _, _ := startIngress(t, auth.Open{})
	conn := dialSSH(t, srv.Addr(), "plc-07", "fieldpass")

	sess, err := conn.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer func() { _ = sess.Close() }()

	if err := sess.RequestSubsystem("netconf"); err == nil {
		t.Fatal("non-sftp subsystem was accepted")
	}
}

func TestSessionLimitRejectsExcess(t *testing.T) {
	fs := vfs.New()
	srv := NewServer(Options{
		Host:         "127.0.0.1",
		Port:         0,
		HostKey:      testHostKey(t),
		MaxSessions:  1,
		DrainTimeout: 500 * time.Millisecond,
	}, auth.Open{}, fs, bus.New(), nil)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(context.Background()) }()
	select {
	case <-srv.WaitReady():
	case <-time.After(2 * time.Second):
		t.Fatal("ingress not ready after 2s")
	}
	t.Cleanup(func() {
		srv.Stop()
		<-serveErr
	})

	dialClient(t, srv.Addr())

	_, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            "plc-08",
		Auth:            []ssh.AuthMethod{ssh.Password("fieldpass")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err == nil {
		t.Fatal("dial succeeded past the session limit")
	}
}

func TestServeRequiresHostKey(t *testing.T) {
	srv := NewServer(Options{Host: "127.0.0.1"}, auth.Open{}, vfs.New(), bus.New(), nil)
	if err := srv.Serve(context.Background()); err == nil {
		t.Fatal("Serve accepted a nil host key")
	}
}
