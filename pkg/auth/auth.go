// Package auth provides authentication for the embedded SFTP ingress.
//
// Two modes are supported:
//
//   - open: any username/password pair is accepted. Devices upload with
//     the same credentials this process fetched for them from the
//     credentials service, so the ingress does not re-verify.
//   - kerberos: passwords are verified against the realm's KDC (see the
//     kerberos sub-package).
//
// Thread safety: implementations must be safe for concurrent use; one
// verifier serves every inbound session.
package auth

import (
	"context"
	"errors"
)

// Verifier checks the password presented on an inbound SSH session.
type Verifier interface {
	// VerifyPassword returns nil when the pair is acceptable.
	VerifyPassword(ctx context.Context, username, password string) error

	// Name returns the verifier name for logging and diagnostics.
	Name() string
}

// Standard authentication errors.
var (
	// ErrAuthFailed indicates that authentication was attempted but
	// failed (bad password, unknown principal).
	ErrAuthFailed = errors.New("auth: authentication failed")

	// ErrInvalidCredentials indicates that the credentials are malformed
	// (distinct from wrong credentials).
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Open accepts every non-empty username with any password.
type Open struct{}

// VerifyPassword implements Verifier.
func (Open) VerifyPassword(_ context.Context, username, _ string) error {
	if username == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// Name implements Verifier.
func (Open) Name() string { return "open" }
