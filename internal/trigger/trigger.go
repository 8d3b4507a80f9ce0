// Package trigger decodes and validates the PLC trigger messages that start
// the pipeline.
//
// Two wire forms exist: a comma-separated ASCII datagram used over UDP and a
// fixed-layout binary frame used over TCP. Both normalise to the same
// Message after validation.
package trigger

import (
	"fmt"
	"time"
)

// maxFieldLen bounds the error-code and shared-secret fields in both forms.
const maxFieldLen = 48

// Message is one decoded and validated trigger.
type Message struct {
	// IP is the textual IPv4 address of the faulting device.
	IP string

	// Timestamp is the fault timestamp. The ASCII form carries a date only
	// and parses to midnight UTC; the binary form carries epoch seconds.
	Timestamp time.Time

	// ErrorCode is the PLC error code, 1-48 alphanumeric characters.
	ErrorCode string

	// Secret is the shared secret carried by the message. It has already
	// been compared against the expected secret during validation.
	Secret string
}

// Validator checks both trigger forms against the configured shared secret.
//
// The secret charset is alphanumeric plus an optional configured allow-set
// of extra characters.
type Validator struct {
	secret     string
	extraChars string
}

// NewValidator creates a validator for the given shared secret. extraChars
// lists characters permitted in secrets beyond the alphanumerics.
func NewValidator(sharedSecret, extraChars string) *Validator {
	return &Validator{secret: sharedSecret, extraChars: extraChars}
}

// ValidateASCII parses and validates a UDP-form trigger. Any failure returns
// an error describing the offending field; the caller drops the message.
func (v *Validator) ValidateASCII(data []byte) (Message, error) {
	fields, err := splitASCII(data)
	if err != nil {
		return Message{}, err
	}
	if !validIPv4(fields.ip) {
		return Message{}, fmt.Errorf("invalid ip field %q", fields.ip)
	}
	ts, ok := parseTriggerDate(fields.date)
	if !ok {
		return Message{}, fmt.Errorf("invalid date field %q", fields.date)
	}
	if !validErrorCode(fields.errCode) {
		return Message{}, fmt.Errorf("invalid error field %q", fields.errCode)
	}
	if err := v.checkSecret(fields.secret); err != nil {
		return Message{}, err
	}
	return Message{IP: fields.ip, Timestamp: ts, ErrorCode: fields.errCode, Secret: fields.secret}, nil
}

// ValidateBinary decodes and validates a TCP-form trigger frame.
func (v *Validator) ValidateBinary(data []byte) (Message, error) {
	frame, err := decodeBinary(data)
	if err != nil {
		return Message{}, err
	}
	if frame.ip == "0.0.0.0" {
		return Message{}, fmt.Errorf("invalid device address %q", frame.ip)
	}
	if frame.epoch == 0 {
		return Message{}, fmt.Errorf("zero fault timestamp")
	}
	if !validErrorCode(frame.errCode) {
		return Message{}, fmt.Errorf("invalid error field %q", frame.errCode)
	}
	if err := v.checkSecret(frame.secret); err != nil {
		return Message{}, err
	}
	return Message{
		IP:        frame.ip,
		Timestamp: time.Unix(int64(frame.epoch), 0).UTC(),
		ErrorCode: frame.errCode,
		Secret:    frame.secret,
	}, nil
}

func (v *Validator) checkSecret(secret string) error {
	if len(secret) > maxFieldLen {
		return fmt.Errorf("secret exceeds %d characters", maxFieldLen)
	}
	for i := 0; i < len(secret); i++ {
		if !isAlnum(secret[i]) && !inSet(secret[i], v.extraChars) {
			return fmt.Errorf("secret contains disallowed character")
		}
	}
	if secret != v.secret {
		return fmt.Errorf("shared secret mismatch")
	}
	return nil
}

// validErrorCode accepts 1-48 ASCII alphanumeric characters.
func validErrorCode(s string) bool {
	if len(s) == 0 || len(s) > maxFieldLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func inSet(c byte, set string) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}
