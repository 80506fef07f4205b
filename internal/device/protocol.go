package device

import (
	"strconv"
	"strings"
)

// Checksum is the XOR of every byte of payload.
func Checksum(payload []byte) int {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return int(sum)
}

// LineStatus is the outcome of sending one line.
type LineStatus int

const (
	Pending LineStatus = iota
	Acked
	Mismatched
	TimedOut
)

func (s LineStatus) String() string {
	switch s {
	case Acked:
		return "acked"
	case Mismatched:
		return "mismatched"
	case TimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// LineResult describes one line exchange.
type LineResult struct {
	Line   string
	Bytes  int
	Local  int
	Remote int
	Status LineStatus
}

// parseAck recognizes any line starting with "OK" in any case. The bare
// lowercase "ok" is a readiness ping, not an acknowledgement. The remote
// value is the last token, or -1 when it is not a number.
func parseAck(line string) (remote int, ok bool) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || !strings.EqualFold(line[:2], "OK") || line == "ok" {
		return 0, false
	}
	fields := strings.Fields(line)
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return -1, true
	}
	return n, true
}

// isReady reports whether line tells the host to send the next command.
func isReady(line string) bool {
	s := strings.ToLower(strings.TrimSpace(line))
	return s == "ok" || strings.Contains(s, "ready")
}

// isPing matches the status chatter the firmware prints between commands.
func isPing(line string) bool {
	s := strings.ToLower(line)
	return isReady(s) || strings.Contains(s, "start")
}

// ProgramLines returns the lines of a motion program that must be sent:
// blank lines and comment lines are dropped, the rest are trimmed.
func ProgramLines(text, commentMarker string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if commentMarker != "" && strings.HasPrefix(line, commentMarker) {
			continue
		}
		out = append(out, line)
	}
	return out
}
