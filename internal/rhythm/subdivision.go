package rhythm

import "fmt"

// Subdivision splits each beat into equal sub-beats.
type Subdivision int

const (
	SubdivisionNone    Subdivision = 1
	SubdivisionHalf    Subdivision = 2
	SubdivisionTriplet Subdivision = 3
	SubdivisionQuarter Subdivision = 4
)

var subdivisionNames = map[Subdivision]string{
	SubdivisionNone:    "1",
	SubdivisionHalf:    "1/2",
	SubdivisionTriplet: "1/3",
	SubdivisionQuarter: "1/4",
}

// Count returns the number of sub-beats per beat. Unknown values count as 1.
func (s Subdivision) Count() int {
	if _, ok := subdivisionNames[s]; !ok {
		return 1
	}
	return int(s)
}

func (s Subdivision) String() string {
	if name, ok := subdivisionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Subdivision(%d)", int(s))
}

// ParseSubdivision accepts the display names "1", "1/2", "1/3" and "1/4".
func ParseSubdivision(s string) (Subdivision, error) {
	for sub, name := range subdivisionNames {
		if name == s {
			return sub, nil
		}
	}
	switch s {
	case "", "none":
		return SubdivisionNone, nil
	case "half", "2":
		return SubdivisionHalf, nil
	case "triplet", "3":
		return SubdivisionTriplet, nil
	case "quarter", "4":
		return SubdivisionQuarter, nil
	}
	return 0, fmt.Errorf("unknown subdivision %q", s)
}

func (s Subdivision) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Subdivision) UnmarshalText(b []byte) error {
	sub, err := ParseSubdivision(string(b))
	if err != nil {
		return err
	}
	*s = sub
	return nil
}
