// Package duration renders elapsed run times in the compact form used by
// notifications, e.g. "01h 02m 05s".
package duration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Zero is returned by Format for a zero-second duration.
const Zero = "0s"

// ErrNegative is returned when Format is called with a negative value.
var ErrNegative = errors.New("duration: negative seconds")

var units = [4]string{"d", "h", "m", "s"}

// Format converts seconds into space separated, zero padded components
// (days, hours, minutes, seconds). Leading zero components are dropped;
// the seconds component is always kept.
func Format(seconds int64) (string, error) {
	if seconds < 0 {
		return "", fmt.Errorf("%w: %d", ErrNegative, seconds)
	}
	if seconds == 0 {
		return Zero, nil
	}
	parts := split(seconds)

	first := 0
	for first < len(parts)-1 && parts[first] == 0 {
		first++
	}
	out := make([]string, 0, len(parts)-first)
	for i := first; i < len(parts); i++ {
		out = append(out, fmt.Sprintf("%02d%s", parts[i], units[i]))
	}
	return strings.Join(out, " "), nil
}

// FormatDuration truncates d to whole seconds and formats it.
// Negative durations are treated as zero.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	s, _ := Format(secs)
	return s
}

// split returns days, hours, minutes and seconds, most significant first.
func split(seconds int64) [4]int64 {
	mins, secs := seconds/60, seconds%60
	hours, mins := mins/60, mins%60
	days, hours := hours/24, hours%24
	return [4]int64{days, hours, mins, secs}
}
