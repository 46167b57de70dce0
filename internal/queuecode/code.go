// Package queuecode derives human-readable ticket codes from the check-in
// time and a per-period sequence counter. A code looks like "08A-001": the
// 12-hour clock hour, the meridiem letter, and a zero-padded sequence that
// resets at every hour/meridiem boundary. Priority never changes the code;
// it only affects station-queue ordering.
package queuecode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const maxPerPeriod = 999

// ErrSequenceOverflow is returned when more than 999 tickets are issued in
// one half-day hour period. Operationally unreachable, but never truncated.
var ErrSequenceOverflow = errors.New("ticket sequence overflow for period")

var codePattern = regexp.MustCompile(`^(\d{2})([AP])-(\d{3})$`)

// Generate builds the code for the ticket issued after priorCount tickets in
// the same facility and period.
func Generate(checkIn time.Time, priorCount int) (string, error) {
	seq := priorCount + 1
	if seq > maxPerPeriod {
		return "", ErrSequenceOverflow
	}
	return fmt.Sprintf("%s-%03d", PeriodKey(checkIn), seq), nil
}

// PeriodKey identifies the sequence-reset window, e.g. "08A" for 08:00-08:59
// and "12P" for noon-12:59pm.
func PeriodKey(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "A"
	if t.Hour() >= 12 {
		meridiem = "P"
	}
	return fmt.Sprintf("%02d%s", hour, meridiem)
}

// Parse splits a ticket code back into its period key and sequence number.
// The format must round-trip exactly; anything else is rejected.
func Parse(code string) (period string, seq int, err error) {
	match := codePattern.FindStringSubmatch(code)
	if match == nil {
		return "", 0, fmt.Errorf("malformed ticket code %q", code)
	}
	hour, err := strconv.Atoi(match[1])
	if err != nil || hour < 1 || hour > 12 {
		return "", 0, fmt.Errorf("ticket code %q has hour outside 01-12", code)
	}
	seq, err = strconv.Atoi(match[3])
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("ticket code %q has invalid sequence", code)
	}
	return match[1] + match[2], seq, nil
}
