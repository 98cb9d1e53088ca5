package grbl

import (
	"regexp"
	"strings"
)

var feedRateFault = regexp.MustCompile(`(?i)error:?\s*22\b`)

// IsFault reports whether a response line carries a device error or alarm.
func IsFault(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "error") || strings.Contains(l, "alarm")
}

// IsFeedRateFault matches Grbl error 22, raised when a G01 arrives
// before any feed rate has been set. This is the one fault the driver
// recovers from automatically.
func IsFeedRateFault(line string) bool {
	return feedRateFault.MatchString(line)
}

// faultText describes the codes the mill actually runs into, for logs.
var faultText = map[string]string{
	"error:9":  "G-code locked out during alarm or jog state",
	"error:20": "unsupported or invalid G-code command",
	"error:22": "feed rate has not yet been set or is undefined",
	"alarm:1":  "hard limit triggered, machine position lost",
	"alarm:2":  "motion target exceeds machine travel",
	"alarm:8":  "homing fail, cycle did not clear limit switch",
	"alarm:9":  "homing fail, could not find limit switch",
}

// DescribeFault returns a human-readable note for a known fault line,
// or the line itself.
func DescribeFault(line string) string {
	code := strings.ToLower(strings.TrimSpace(line))
	if text, ok := faultText[code]; ok {
		return text
	}
	return line
}
