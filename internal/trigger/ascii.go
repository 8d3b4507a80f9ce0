package trigger

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// The ASCII form is "ip,date,error,secret" followed by a newline. The date
// is MMDDYYYY with the month optionally unpadded.

type asciiFields struct {
	ip      string
	date    string
	errCode string
	secret  string
}

// splitASCII strips the trailing line terminator and splits the payload into
// its four comma-separated fields. Any other field count is malformed.
func splitASCII(data []byte) (asciiFields, error) {
	text := string(data)
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")

	parts := strings.Split(text, ",")
	if len(parts) != 4 {
		return asciiFields{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	return asciiFields{ip: parts[0], date: parts[1], errCode: parts[2], secret: parts[3]}, nil
}

// EncodeASCII renders the UDP wire form of a trigger. The date is written as
// MMDDYYYY.
func EncodeASCII(ip string, ts time.Time, errCode, secret string) []byte {
	return []byte(fmt.Sprintf("%s,%s,%s,%s\n", ip, ts.Format("01022006"), errCode, secret))
}

// validIPv4 accepts dotted-quad IPv4 literals only.
func validIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}

// parseTriggerDate interprets a 7 or 8 digit string as MMDDYYYY, left-padding
// a single-digit month, and returns midnight UTC of that date.
func parseTriggerDate(s string) (time.Time, bool) {
	if len(s) != 7 && len(s) != 8 {
		return time.Time{}, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return time.Time{}, false
		}
	}
	if len(s) == 7 {
		s = "0" + s
	}
	ts, err := time.ParseInLocation("01022006", s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
