package votes

import (
	"regexp"
	"strings"
)

const slotSep = "|"

var slotPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\|\d{2}:\d{2}\|\d{2}:\d{2}$`)

// TimedOption is one proposed time range for a time poll.
type TimedOption struct {
	Date  string `json:"date"`  // YYYY-MM-DD
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

// Complete reports whether date, start and end are all non-blank.
func (o TimedOption) Complete() bool {
	return strings.TrimSpace(o.Date) != "" &&
		strings.TrimSpace(o.Start) != "" &&
		strings.TrimSpace(o.End) != ""
}

// Encode returns the stored text form "YYYY-MM-DD|HH:MM|HH:MM".
func (o TimedOption) Encode() string {
	return strings.TrimSpace(o.Date) + slotSep + strings.TrimSpace(o.Start) + slotSep + strings.TrimSpace(o.End)
}

// Range returns "HH:MM-HH:MM", the value written to an event's time field.
func (o TimedOption) Range() string {
	return o.Start + "-" + o.End
}

// DecodeTimedOption parses stored option text. Text that does not match the
// strict pattern yields ok == false.
func DecodeTimedOption(text string) (TimedOption, bool) {
	if !slotPattern.MatchString(text) {
		return TimedOption{}, false
	}
	parts := strings.Split(text, slotSep)
	return TimedOption{Date: parts[0], Start: parts[1], End: parts[2]}, true
}
