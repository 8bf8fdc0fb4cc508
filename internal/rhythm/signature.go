package rhythm

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeSignature is a meter like 4/4. Compound is only meaningful for 6/8,
// which is then felt as two groups of three eighth notes.
type TimeSignature struct {
	Beats    int
	Unit     int
	Compound bool
}

const compoundSuffix = "(Compound)"

var (
	Common   = TimeSignature{Beats: 4, Unit: 4}
	Compound = TimeSignature{Beats: 6, Unit: 8, Compound: true}
)

// ParseTimeSignature accepts "3/4", "7/8" or "6/8 (Compound)".
func ParseTimeSignature(s string) (TimeSignature, error) {
	s = strings.TrimSpace(s)
	compound := false
	if strings.HasSuffix(s, compoundSuffix) {
		compound = true
		s = strings.TrimSpace(strings.TrimSuffix(s, compoundSuffix))
	}

	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return TimeSignature{}, fmt.Errorf("time signature %q: missing '/'", s)
	}
	beats, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || beats < 1 || beats > 16 {
		return TimeSignature{}, fmt.Errorf("time signature %q: bad beat count", s)
	}
	unit, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return TimeSignature{}, fmt.Errorf("time signature %q: bad unit", s)
	}
	switch unit {
	case 2, 4, 8, 16:
	default:
		return TimeSignature{}, fmt.Errorf("time signature %q: unit must be 2, 4, 8 or 16", s)
	}
	if compound && (beats != 6 || unit != 8) {
		return TimeSignature{}, fmt.Errorf("time signature %q: only 6/8 can be compound", s)
	}
	return TimeSignature{Beats: beats, Unit: unit, Compound: compound}, nil
}

// BeatsPerMeasure is the number of counted beats in one bar.
func (t TimeSignature) BeatsPerMeasure() int {
	if t.Compound {
		return 6
	}
	if t.Beats < 1 {
		return 4
	}
	return t.Beats
}

func (t TimeSignature) String() string {
	s := fmt.Sprintf("%d/%d", t.Beats, t.Unit)
	if t.Compound {
		s += " " + compoundSuffix
	}
	return s
}

func (t TimeSignature) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeSignature) UnmarshalText(b []byte) error {
	ts, err := ParseTimeSignature(string(b))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}
