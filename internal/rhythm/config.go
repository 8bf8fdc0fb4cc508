// Package rhythm holds the rhythm configuration model and the lookup tables
// that map beats to click tones and spoken syllables.
package rhythm

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

const (
	MinTempo = 40
	MaxTempo = 300

	MinPulseBeats = 2
	MaxPulseBeats = 7
)

// Ramp moves the tempo linearly from StartBPM to EndBPM over Duration
// minutes, then holds EndBPM.
type Ramp struct {
	StartBPM int     `json:"start_bpm"`
	EndBPM   int     `json:"end_bpm"`
	Duration float64 `json:"duration_min"`
}

// TempoAt returns the rounded tempo after elapsed seconds.
func (r Ramp) TempoAt(elapsed float64) int {
	if r.Duration <= 0 {
		return r.EndBPM
	}
	progress := core.Clamp(elapsed/(r.Duration*60), 0, 1)
	return int(math.Round(float64(r.StartBPM) + progress*float64(r.EndBPM-r.StartBPM)))
}

// Config is everything the scheduler needs to produce a single-pulse rhythm.
type Config struct {
	Signature        TimeSignature `json:"signature"`
	Tempo            int           `json:"tempo"`
	AccentFirstBeat  bool          `json:"accent_first_beat"`
	Subdivision      Subdivision   `json:"subdivision"`
	VoiceSubdivision bool          `json:"voice_subdivision"`
	Swing            bool          `json:"swing"`
	UseClick         bool          `json:"use_click"`
	UseVoice         bool          `json:"use_voice"`
	Ramp             *Ramp         `json:"ramp,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Signature:       Common,
		Tempo:           120,
		AccentFirstBeat: true,
		Subdivision:     SubdivisionNone,
		UseClick:        true,
	}
}

// ClampTempo limits bpm to [MinTempo, MaxTempo].
func ClampTempo(bpm int) int {
	return int(core.Clamp(float64(bpm), MinTempo, MaxTempo))
}

// Normalize returns a copy with every field in its legal range. Compound
// meters only allow straight beats or triplets, so halves fall back to
// plain beats and quarters to triplets.
func (c Config) Normalize() Config {
	c.Tempo = ClampTempo(c.Tempo)
	if c.Signature.Beats == 0 {
		c.Signature = Common
	}
	if c.Subdivision.Count() != int(c.Subdivision) {
		c.Subdivision = SubdivisionNone
	}
	if c.Signature.Compound {
		switch c.Subdivision {
		case SubdivisionHalf:
			c.Subdivision = SubdivisionNone
		case SubdivisionQuarter:
			c.Subdivision = SubdivisionTriplet
		}
	}
	if c.Ramp != nil {
		r := *c.Ramp
		r.StartBPM = ClampTempo(r.StartBPM)
		r.EndBPM = ClampTempo(r.EndBPM)
		if r.Duration < 0 {
			r.Duration = 0
		}
		c.Ramp = &r
	}
	return c
}

// TempoAt returns the tempo in effect elapsed seconds after the start.
func (c Config) TempoAt(elapsed float64) int {
	if c.Ramp != nil {
		return c.Ramp.TempoAt(elapsed)
	}
	return c.Tempo
}

// SameGrid reports whether switching from c to o keeps the beat counter
// meaningful. Tempo changes do; anything that reshapes the bar does not.
func (c Config) SameGrid(o Config) bool {
	return c.Signature == o.Signature &&
		c.Subdivision == o.Subdivision &&
		c.UseClick == o.UseClick &&
		c.UseVoice == o.UseVoice &&
		c.VoiceSubdivision == o.VoiceSubdivision
}

// PulseConfig is one layer of a polyrhythm.
type PulseConfig struct {
	Beats           int     `json:"beats"`
	UseClick        bool    `json:"use_click"`
	UseVoice        bool    `json:"use_voice"`
	AccentFirstBeat bool    `json:"accent_first_beat"`
	Pan             float64 `json:"pan"`
}

// Polyrhythm plays several pulses over the same cycle. The anchor pulse
// beats at the configured tempo; the others divide the anchor's bar evenly.
type Polyrhythm struct {
	Pulses []PulseConfig `json:"pulses"`
	Anchor int           `json:"anchor"`
}

var ErrNoPulses = errors.New("polyrhythm needs at least one pulse")

// Normalize clamps beats to [MinPulseBeats, MaxPulseBeats] and pan to [-1, 1].
func (p Polyrhythm) Normalize() Polyrhythm {
	pulses := make([]PulseConfig, len(p.Pulses))
	for i, pc := range p.Pulses {
		pc.Beats = int(core.Clamp(float64(pc.Beats), MinPulseBeats, MaxPulseBeats))
		pc.Pan = core.Clamp(pc.Pan, -1, 1)
		pulses[i] = pc
	}
	p.Pulses = pulses
	return p
}

func (p Polyrhythm) Validate() error {
	if len(p.Pulses) == 0 {
		return ErrNoPulses
	}
	if p.Anchor < 0 || p.Anchor >= len(p.Pulses) {
		return fmt.Errorf("anchor %d out of range [0, %d)", p.Anchor, len(p.Pulses))
	}
	return nil
}

// BeatDuration returns the seconds between beats of pulse i at tempo.
func (p Polyrhythm) BeatDuration(i, tempo int) float64 {
	anchorDur := 60 / float64(tempo)
	if i == p.Anchor {
		return anchorDur
	}
	return anchorDur * float64(p.Pulses[p.Anchor].Beats) / float64(p.Pulses[i].Beats)
}

// CycleDuration is the length of one full cycle, shared by every pulse.
func (p Polyrhythm) CycleDuration(tempo int) float64 {
	return 60 / float64(tempo) * float64(p.Pulses[p.Anchor].Beats)
}
