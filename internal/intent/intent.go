// Package intent defines the two attendance actions and the vocabulary
// the detection chain matches against.
package intent

import (
	"fmt"
	"strings"
)

// Intent is the semantic action requested of the page agent.
type Intent string

const (
	CheckIn  Intent = "checkin"
	CheckOut Intent = "checkout"
)

// Parse accepts the wire spellings used in message envelopes.
func Parse(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checkin", "check-in", "check_in":
		return CheckIn, nil
	case "checkout", "check-out", "check_out":
		return CheckOut, nil
	default:
		return "", fmt.Errorf("unknown intent %q", s)
	}
}

func (i Intent) String() string { return string(i) }

// Keywords are substrings that mark an element as belonging to this
// intent (matched against folded text/value/title/accessible name).
func (i Intent) Keywords() []string {
	if i == CheckOut {
		return []string{"check out", "check-out", "checkout", "punch out", "punch-out", "clock out"}
	}
	return []string{"check in", "check-in", "checkin", "punch in", "punch-in", "clock in"}
}

// Labels are the exact canonical control captions matched by the text
// strategy (compared after case and whitespace folding).
func (i Intent) Labels() []string {
	if i == CheckOut {
		return []string{"Check Out", "Punch Out", "Clock Out", "End Work", "Check-out"}
	}
	return []string{"Check In", "Punch In", "Clock In", "Start Work", "Check-in"}
}

// DirectionWords disambiguate candidates inside an attendance container.
func (i Intent) DirectionWords() []string {
	if i == CheckOut {
		return []string{"out", "end", "stop"}
	}
	return []string{"in", "start", "begin"}
}

// HookNames are well-known page-global function names probed by the
// programmatic fallback strategy, in order.
func (i Intent) HookNames() []string {
	if i == CheckOut {
		return []string{"checkOut", "performCheckOut", "punchOut", "markAttendanceOut", "submitCheckout"}
	}
	return []string{"checkIn", "performCheckIn", "punchIn", "markAttendanceIn", "submitCheckin"}
}
