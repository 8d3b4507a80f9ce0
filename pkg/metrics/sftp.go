package metrics

import (
	"time"
)

// SFTPMetrics provides observability for the embedded SFTP ingress.
//
// This interface is optional - pass nil to disable metrics collection
// with zero overhead.
type SFTPMetrics interface {
	// RecordSessionAccepted increments the accepted sessions counter and
	// the active session gauge.
	RecordSessionAccepted()

	// RecordSessionClosed increments the closed sessions counter and
	// decrements the active session gauge.
	RecordSessionClosed()

	// RecordAuthFailure records a rejected authentication attempt.
	//
	// Parameters:
	//   - method: verifier name ("open", "kerberos")
	RecordAuthFailure(method string)

	// RecordRequest records a completed SFTP request.
	//
	// Parameters:
	//   - op: request type (e.g. "Put", "Stat", "Mkdir")
	//   - duration: time taken to process the request
	//   - errorCode: SFTP status name if the request failed (e.g.
	//     "SSH_FX_NO_SUCH_FILE"), empty if successful
	RecordRequest(op string, duration time.Duration, errorCode string)

	// RecordBytesWritten records bytes written into the VirtualFS by an
	// inbound session.
	RecordBytesWritten(bytes uint64)
}
