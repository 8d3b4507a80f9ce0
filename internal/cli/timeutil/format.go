// Package timeutil formats timestamps and durations for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// localTimeFormat is how absolute times are shown to operators.
const localTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUptime rewrites a Go duration string ("72h30m15s") as a
// day-granular human form ("3d 0h 30m 15s"). Unparsable input is
// returned unchanged.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatTime renders an RFC 3339 timestamp in local time. Unparsable
// input is returned unchanged.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(localTimeFormat)
}
