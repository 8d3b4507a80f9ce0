package trigger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// The TCP form is a fixed-layout frame: 4 bytes IPv4 in network order,
// 4 bytes big-endian epoch seconds, 8 bytes NUL-padded error code, and the
// remainder a NUL-padded secret.
const (
	binIPOffset    = 0
	binEpochOffset = 4
	binErrOffset   = 8
	binErrLen      = 8
	binSecretOff   = 16
)

type binaryFields struct {
	ip      string
	epoch   uint32
	errCode string
	secret  string
}

// decodeBinary splits a TCP frame into its fields. Frames shorter than the
// fixed header are malformed.
func decodeBinary(data []byte) (binaryFields, error) {
	if len(data) < binSecretOff {
		return binaryFields{}, fmt.Errorf("short frame: %d bytes", len(data))
	}
	ip := net.IPv4(data[binIPOffset], data[binIPOffset+1], data[binIPOffset+2], data[binIPOffset+3])
	return binaryFields{
		ip:      ip.String(),
		epoch:   binary.BigEndian.Uint32(data[binEpochOffset:]),
		errCode: trimNUL(data[binErrOffset : binErrOffset+binErrLen]),
		secret:  trimNUL(data[binSecretOff:]),
	}, nil
}

// EncodeBinary renders the TCP wire form of a trigger. The secret field is
// padded to a multiple of 8 bytes as devices do.
func EncodeBinary(ip string, ts time.Time, errCode, secret string) ([]byte, error) {
	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	if len(errCode) > binErrLen {
		return nil, fmt.Errorf("error code exceeds %d bytes", binErrLen)
	}

	secretLen := (len(secret) + 7) / 8 * 8
	if secretLen == 0 {
		secretLen = 8
	}
	frame := make([]byte, binSecretOff+secretLen)
	copy(frame[binIPOffset:], addr.To4())
	binary.BigEndian.PutUint32(frame[binEpochOffset:], uint32(ts.Unix()))
	copy(frame[binErrOffset:], errCode)
	copy(frame[binSecretOff:], secret)
	return frame, nil
}

func trimNUL(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
