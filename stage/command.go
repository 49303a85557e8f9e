package stage

import (
	"strconv"
	"strings"
)

// Command tokens understood by the firmware.
const (
	CmdMove     = "G0"
	CmdHome     = "G28"
	CmdLevel    = "G29"
	CmdPosition = "M114"
	CmdIdentify = "M115"
)

const lineEnding = "\r\n"

// FormatMove formats an absolute move to p at the given feed rate.
func FormatMove(p Position, feedRate int) string {
	var sb strings.Builder
	sb.WriteString(CmdMove)
	for _, axis := range []struct {
		name byte
		v    float64
	}{{'X', p.X}, {'Y', p.Y}, {'Z', p.Z}} {
		sb.WriteByte(' ')
		sb.WriteByte(axis.name)
		sb.WriteString(strconv.FormatFloat(axis.v, 'f', 3, 64))
	}
	if feedRate > 0 {
		sb.WriteString(" F")
		sb.WriteString(strconv.Itoa(feedRate))
	}

	return sb.String()
}

// FormatHome formats a homing command for the given axes; no axes homes all of them.
func FormatHome(axes []string) string {
	if len(axes) == 0 {
		return CmdHome
	}

	return CmdHome + " " + strings.Join(axes, " ")
}

func isAck(line string) bool {
	return len(line) >= 2 && strings.EqualFold(line[:2], "ok")
}
