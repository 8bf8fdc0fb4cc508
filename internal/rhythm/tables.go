package rhythm

// Click tones.
const (
	AccentFrequency = 1000.0
	BeatFrequency   = 600.0
	SubFrequency    = 400.0
	SubMidFrequency = 500.0

	ClickVolume       = 1.0
	SubdivisionVolume = 0.6
	ToneDuration      = 0.1
)

// VoiceSamples lists the spoken count samples in index order. The first
// CountSamples entries are the beat numbers, followed by the syllables.
var VoiceSamples = []string{"1", "2", "3", "4", "5", "6", "7", "eee", "and", "ah"}

const (
	CountSamples = 7

	SampleEe  = 7
	SampleAnd = 8
	SampleAh  = 9
)

// BeatFrequencyFor returns the click pitch of a main beat.
func BeatFrequencyFor(accent bool) float64 {
	if accent {
		return AccentFrequency
	}
	return BeatFrequency
}

// SubdivisionFrequency returns the click pitch of sub-beat subBeat (> 0).
func SubdivisionFrequency(subCount, subBeat int) (float64, bool) {
	if subBeat <= 0 || subBeat >= subCount {
		return 0, false
	}
	switch subCount {
	case 2:
		return SubFrequency, true
	case 3:
		if subBeat == 1 {
			return SubMidFrequency, true
		}
		return SubFrequency, true
	case 4:
		if subBeat == 2 {
			return SubMidFrequency, true
		}
		return SubFrequency, true
	}
	return 0, false
}

// SyllableSample returns the voice sample spoken on sub-beat subBeat (> 0).
func SyllableSample(subCount, subBeat int) (int, bool) {
	if subBeat <= 0 || subBeat >= subCount {
		return 0, false
	}
	switch subCount {
	case 2:
		return SampleAnd, true
	case 3:
		if subBeat == 1 {
			return SampleEe, true
		}
		return SampleAh, true
	case 4:
		switch subBeat {
		case 1:
			return SampleEe, true
		case 2:
			return SampleAnd, true
		default:
			return SampleAh, true
		}
	}
	return 0, false
}

// CountSample maps a zero-based beat to its spoken number, clamped to the
// available count samples.
func CountSample(beat int) int {
	switch {
	case beat < 0:
		return 0
	case beat >= CountSamples:
		return CountSamples - 1
	}
	return beat
}

// SkipsSubBeat reports whether swing drops this sub-beat. Swing only
// applies to triplets, where the middle note is silent.
func SkipsSubBeat(swing bool, subCount, subBeat int) bool {
	return swing && subCount == 3 && subBeat == 1
}

// CompoundAccent reports whether beat (0..5) of a 6/8 bar is a group start.
func CompoundAccent(beat int) bool {
	return beat == 0 || beat == 3
}

// CompoundVoice returns the sample spoken on beat (0..5) of a compound bar.
// Off-group beats only speak when the bar is subdivided in triplets.
func CompoundVoice(beat int, triplet bool) (index int, volume float64, ok bool) {
	switch beat {
	case 0:
		return 0, ClickVolume, true
	case 3:
		return 1, ClickVolume, true
	}
	if !triplet {
		return 0, 0, false
	}
	switch beat {
	case 1, 4:
		return SampleEe, SubdivisionVolume, true
	case 2, 5:
		return SampleAh, SubdivisionVolume, true
	}
	return 0, 0, false
}
