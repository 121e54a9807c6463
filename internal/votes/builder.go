package votes

import (
	"fmt"
	"strings"
	"time"

	"github.com/gatherly/backend/internal/models"
)

// MinOptions is both the minimum option count of a valid poll and the floor
// below which options cannot be removed from a form.
const MinOptions = 2

const deadlineLayout = "2006-01-02 15:04"

// Form is the editable state behind one poll form. It is plain data: the
// presentation layer mutates it and calls Build when the event is saved.
type Form struct {
	Kind         models.VoteKind `json:"kind"`
	Question     string          `json:"question"`
	DeadlineDate string          `json:"deadline_date"`
	DeadlineTime string          `json:"deadline_time"`
	Options      []string        `json:"options"`
	TimedOptions []TimedOption   `json:"timed_options"`
}

// NewForm returns a form of the given kind seeded with two empty options.
func NewForm(kind models.VoteKind) *Form {
	f := &Form{Kind: kind}
	if kind == models.VoteKindTime {
		f.TimedOptions = make([]TimedOption, MinOptions)
	} else {
		f.Options = make([]string, MinOptions)
	}
	return f
}

// AddOption appends an empty option of the form's shape.
func (f *Form) AddOption() {
	if f.Kind == models.VoteKindTime {
		f.TimedOptions = append(f.TimedOptions, TimedOption{})
		return
	}
	f.Options = append(f.Options, "")
}

// RemoveOption drops the option at i. It refuses (returns false) when the
// index is out of range or the form is already at MinOptions entries.
func (f *Form) RemoveOption(i int) bool {
	if f.Kind == models.VoteKindTime {
		if i < 0 || i >= len(f.TimedOptions) || len(f.TimedOptions) <= MinOptions {
			return false
		}
		f.TimedOptions = append(f.TimedOptions[:i], f.TimedOptions[i+1:]...)
		return true
	}
	if i < 0 || i >= len(f.Options) || len(f.Options) <= MinOptions {
		return false
	}
	f.Options = append(f.Options[:i], f.Options[i+1:]...)
	return true
}

// CheckValidity reports whether Build would succeed.
func (f *Form) CheckValidity() bool {
	return f.validate() == nil
}

func (f *Form) validate() error {
	if strings.TrimSpace(f.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrValidationFailed)
	}
	switch f.Kind {
	case models.VoteKindGeneral, models.VoteKindLocation:
		hasDate := strings.TrimSpace(f.DeadlineDate) != ""
		hasTime := strings.TrimSpace(f.DeadlineTime) != ""
		if hasDate != hasTime {
			return fmt.Errorf("%w: deadline needs both date and time", ErrValidationFailed)
		}
		if hasDate {
			if err := f.deadline().check(); err != nil {
				return err
			}
		}
		if len(f.Options) < MinOptions {
			return fmt.Errorf("%w: at least %d options are required", ErrValidationFailed, MinOptions)
		}
		for i, o := range f.Options {
			if strings.TrimSpace(o) == "" {
				return fmt.Errorf("%w: option %d is empty", ErrValidationFailed, i+1)
			}
		}
	case models.VoteKindTime:
		if len(f.TimedOptions) < MinOptions {
			return fmt.Errorf("%w: at least %d time options are required", ErrValidationFailed, MinOptions)
		}
		for i, o := range f.TimedOptions {
			if !o.Complete() {
				return fmt.Errorf("%w: time option %d needs date, start and end", ErrValidationFailed, i+1)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidationFailed, f.Kind)
	}
	return nil
}

// Build validates the form and returns its intent: a TextIntent for general
// and location polls, a TimeIntent for time polls.
func (f *Form) Build() (Intent, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(f.Question)
	deadline := f.deadline()
	// Time polls do not validate the deadline, so an unusable one is dropped.
	if deadline.Date == "" || deadline.Time == "" || deadline.check() != nil {
		deadline = Deadline{}
	}

	if f.Kind == models.VoteKindTime {
		opts := make([]TimedOption, len(f.TimedOptions))
		copy(opts, f.TimedOptions)
		return TimeIntent{Question: question, Deadline: deadline, Options: opts}, nil
	}
	opts := make([]string, 0, len(f.Options))
	for _, o := range f.Options {
		opts = append(opts, strings.TrimSpace(o))
	}
	return TextIntent{Kind: f.Kind, Question: question, Deadline: deadline, Options: opts}, nil
}

// Deadline is a date plus wall-clock time; both are set or both empty.
type Deadline struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time"` // HH:MM
}

func (f *Form) deadline() Deadline {
	return Deadline{Date: strings.TrimSpace(f.DeadlineDate), Time: strings.TrimSpace(f.DeadlineTime)}
}

// check reports whether date and time parse as YYYY-MM-DD and HH:MM.
func (d Deadline) check() error {
	if _, err := time.Parse(deadlineLayout, d.Date+" "+d.Time); err != nil {
		return fmt.Errorf("%w: deadline %q %q is not YYYY-MM-DD HH:MM", ErrValidationFailed, d.Date, d.Time)
	}
	return nil
}

// IsZero reports whether no deadline was given.
func (d Deadline) IsZero() bool { return d.Date == "" && d.Time == "" }

// In combines date and time into one instant in loc. A zero deadline yields nil.
func (d Deadline) In(loc *time.Location) (*time.Time, error) {
	if d.IsZero() {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(deadlineLayout, d.Date+" "+d.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q %q: %w", d.Date, d.Time, err)
	}
	return &t, nil
}

// Intent is a validated, not yet persisted poll. It is implemented only by
// TextIntent and TimeIntent.
type Intent interface {
	kind() models.VoteKind
	header() (question string, deadline Deadline)
	optionTexts() []string
}

// TextIntent is a general or location poll with free-text options.
type TextIntent struct {
	Kind     models.VoteKind
	Question string
	Deadline Deadline
	Options  []string
}

func (t TextIntent) kind() models.VoteKind { return t.Kind }

func (t TextIntent) header() (string, Deadline) { return t.Question, t.Deadline }

func (t TextIntent) optionTexts() []string {
	out := make([]string, 0, len(t.Options))
	for _, o := range t.Options {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// checkSlots rejects a time intent with a complete slot that would not
// decode after storage, since such options are never tallied.
func checkSlots(in Intent) error {
	t, ok := in.(TimeIntent)
	if !ok {
		return nil
	}
	for i, o := range t.Options {
		if !o.Complete() {
			continue
		}
		if _, ok := DecodeTimedOption(o.Encode()); !ok {
			return fmt.Errorf("%w: time option %d must be YYYY-MM-DD with HH:MM start and end", ErrValidationFailed, i+1)
		}
	}
	return nil
}

// TimeIntent is a time poll whose options are date/start/end ranges.
type TimeIntent struct {
	Question string
	Deadline Deadline
	Options  []TimedOption
}

func (t TimeIntent) kind() models.VoteKind { return models.VoteKindTime }

func (t TimeIntent) header() (string, Deadline) { return t.Question, t.Deadline }

func (t TimeIntent) optionTexts() []string {
	out := make([]string, 0, len(t.Options))
	for _, o := range t.Options {
		if o.Complete() {
			out = append(out, o.Encode())
		}
	}
	return out
}

// IntentSet is everything registered for one event in a single pass: at most
// one time poll, at most one location poll, any number of general polls.
type IntentSet struct {
	Time     *TimeIntent
	Location *TextIntent
	General  []TextIntent
}

// Add files an intent under its kind.
func (s *IntentSet) Add(in Intent) error {
	switch v := in.(type) {
	case TimeIntent:
		if s.Time != nil {
			return fmt.Errorf("%w: only one time vote per event", ErrValidationFailed)
		}
		s.Time = &v
	case TextIntent:
		if v.Kind == models.VoteKindLocation {
			if s.Location != nil {
				return fmt.Errorf("%w: only one location vote per event", ErrValidationFailed)
			}
			s.Location = &v
			return nil
		}
		s.General = append(s.General, v)
	default:
		return fmt.Errorf("%w: unsupported intent %T", ErrValidationFailed, in)
	}
	return nil
}

// Len returns the number of intents in the set.
func (s IntentSet) Len() int {
	n := len(s.General)
	if s.Time != nil {
		n++
	}
	if s.Location != nil {
		n++
	}
	return n
}

func (s IntentSet) all() []Intent {
	out := make([]Intent, 0, s.Len())
	if s.Time != nil {
		out = append(out, *s.Time)
	}
	if s.Location != nil {
		out = append(out, *s.Location)
	}
	for _, g := range s.General {
		out = append(out, g)
	}
	return out
}
