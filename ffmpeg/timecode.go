package ffmpeg

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// maxSeconds is the largest whole second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseTimecode parses "HH:MM:SS", "MM:SS" or plain seconds, each with an
// optional fractional part of up to nine digits. A blank value reports ok=false,
// meaning the bound is absent.
func ParseTimecode(value string) (d time.Duration, ok bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false, nil
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	var nanos int64
	if hasFrac {
		if frac == "" || len(frac) > 9 || !isDigits(frac) {
			return 0, false, invalidf("malformed timecode %q", value)
		}
		n, _ := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		nanos = n
	}

	parts := strings.Split(whole, ":")
	if len(parts) > 3 {
		return 0, false, invalidf("malformed timecode %q", value)
	}
	var seconds int64
	for i, part := range parts {
		if part == "" || !isDigits(part) {
			return 0, false, invalidf("malformed timecode %q", value)
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, false, invalidf("malformed timecode %q", value)
		}
		// Only the leading component may exceed its unit.
		if i > 0 && n >= 60 {
			return 0, false, invalidf("timecode %q has a component out of range", value)
		}
		if seconds > (maxSeconds-n)/60 {
			return 0, false, invalidf("timecode %q is out of range", value)
		}
		seconds = seconds*60 + n
	}
	if seconds > maxSeconds || nanos > math.MaxInt64-seconds*int64(time.Second) {
		return 0, false, invalidf("timecode %q is out of range", value)
	}
	return time.Duration(seconds)*time.Second + time.Duration(nanos), true, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// formatSeconds renders d as decimal seconds rounded half-up to microseconds,
// trailing zeros stripped but always with one fractional digit: 5s -> "5.0",
// 4.5s -> "4.5". Integer arithmetic keeps it identical on every platform.
func formatSeconds(d time.Duration) string {
	n := int64(d)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	micros := (n + 500) / 1000
	whole, frac := micros/1_000_000, micros%1_000_000
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10) + ".0"
	}
	digits := strconv.FormatInt(frac, 10)
	digits = strings.Repeat("0", 6-len(digits)) + digits
	return sign + strconv.FormatInt(whole, 10) + "." + strings.TrimRight(digits, "0")
}
