// Package grbl holds the small fixed command vocabulary the mill uses
// and the parsers for the controller's status and settings output.
package grbl

import (
	"strconv"
	"strings"
)

// Control and query commands understood by Grbl 1.1.
const (
	CmdHome        = "$H"
	CmdUnlock      = "$X"
	CmdSettings    = "$$"
	CmdParameters  = "$#"
	CmdParserState = "$G"
	CmdCheckMode   = "$C"
	CmdStatus      = "?"
	CmdSoftReset   = "\x18"
)

// SettingsTerminator ends a settings dump.
const SettingsTerminator = "ok"

func arg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func FeedRate(rate int) string { return "F" + strconv.Itoa(rate) }

func MoveX(x float64) string { return "G01 X" + arg(x) }
func MoveY(y float64) string { return "G01 Y" + arg(y) }
func MoveZ(z float64) string { return "G01 Z" + arg(z) }

func MoveXY(x, y float64) string {
	return "G01 X" + arg(x) + " Y" + arg(y)
}

// Rapid formats a G00 positioning move. Supported by the device but
// unused by the default flows, which always travel at the set feed rate.
func Rapid(x, y, z float64) string {
	return "G00 X" + arg(x) + " Y" + arg(y) + " Z" + arg(z)
}

func ChangeSetting(key, value string) string { return key + "=" + value }

// IsControl reports whether cmd is answered with a single response line
// rather than physical motion: $-commands, status queries, soft reset,
// and feed-rate sets.
func IsControl(cmd string) bool {
	if cmd == CmdStatus || cmd == CmdSoftReset {
		return true
	}
	return strings.HasPrefix(cmd, "$") || strings.HasPrefix(cmd, "F")
}
