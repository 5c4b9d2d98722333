// Package timeutil converts millisecond deltas into the dd:hh:mm:ss format
// the sink reports to waiting/timed-out participants.
package timeutil

import (
	"fmt"
	"time"
)

// FormatMillis converts a millisecond delta into "dd:hh:mm:ss" with each
// component zero-padded to two digits. Negative deltas are clamped to zero.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return FormatDuration(time.Duration(ms) * time.Millisecond)
}

// FormatDuration converts a duration into "dd:hh:mm:ss" with each component
// zero-padded to two digits.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", days, hours, minutes, seconds)
}

// Until returns the millisecond delta between now and endDate, clamped to
// zero when endDate has already passed.
func Until(endDate time.Time) int64 {
	d := time.Until(endDate).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
