package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// Session failure classes. The manager branches on these to label the
// session outcome.
var (
	// ErrDialFailed wraps failures to establish the SSH connection.
	ErrDialFailed = errors.New("device dial failed")

	// ErrCommandFailed wraps remote command failures on an established
	// connection.
	ErrCommandFailed = errors.New("device command failed")
)

// Transcript records one device session for the transcript file. Stdout
// and Stderr are captured even when the command fails.
type Transcript struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes one command on a device. The production implementation
// dials SSH; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, deviceIP string, creds Credentials, command string) (Transcript, error)
}

// SSHRunner runs device commands over SSH with password authentication.
//
// Devices present self-signed or factory host keys, so host key
// verification is disabled.
type SSHRunner struct {
	port    int
	timeout time.Duration
}

// NewSSHRunner creates a runner dialing the given port. timeout bounds
// both the TCP connect and the SSH handshake.
func NewSSHRunner(port int, timeout time.Duration) *SSHRunner {
	return &SSHRunner{port: port, timeout: timeout}
}

var _ Runner = (*SSHRunner)(nil)

// Run dials the device, issues the command on one session, and returns
// the transcript. Dial failures are reported with ErrDialFailed, command
// failures with ErrCommandFailed alongside the partial transcript.
func (r *SSHRunner) Run(ctx context.Context, deviceIP string, creds Credentials, command string) (Transcript, error) {
	start := time.Now()

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.timeout,
	}

	addr := net.JoinHostPort(deviceIP, strconv.Itoa(r.port))

	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return Transcript{}, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(command)

	transcript := Transcript{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			transcript.ExitCode = exitErr.ExitStatus()
		}
		return transcript, fmt.Errorf("%w: %v", ErrCommandFailed, runErr)
	}
	return transcript, nil
}
