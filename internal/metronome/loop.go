package metronome

import (
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

// tick runs one loop iteration: everything due before now+lookahead is
// handed to the output in time order.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}

	now := s.out.Now()
	horizon := now + s.opts.Lookahead.Seconds()
	cfg := s.cfg

	switch {
	case s.poly != nil:
		s.schedulePoly(now, horizon, cfg, *s.poly)
	case cfg.Signature.Compound:
		s.scheduleCompound(now, horizon, cfg)
	default:
		s.scheduleSimple(now, horizon, cfg)
	}
}

func (s *Scheduler) scheduleSimple(now, horizon float64, cfg rhythm.Config) {
	beats := cfg.Signature.BeatsPerMeasure()
	subCount := cfg.Subdivision.Count()

	for s.st.next < horizon {
		at := s.st.next
		tempo := s.tempoAt(cfg, at)
		beat := (s.st.counter / subCount) % beats
		sub := s.st.counter % subCount

		if !rhythm.SkipsSubBeat(cfg.Swing, subCount, sub) {
			if sub == 0 {
				accent := beat == 0 && cfg.AccentFirstBeat
				if cfg.UseClick {
					s.out.PlayTone(at, rhythm.BeatFrequencyFor(accent), rhythm.ClickVolume, rhythm.ToneDuration, 0)
				}
				if cfg.UseVoice {
					s.out.PlayBuffer(at, rhythm.CountSample(beat), rhythm.ClickVolume, 0)
				}
				s.notifyBeat(now, at, beat)
			} else {
				if f, ok := rhythm.SubdivisionFrequency(subCount, sub); ok && cfg.UseClick {
					s.out.PlayTone(at, f, rhythm.SubdivisionVolume, rhythm.ToneDuration, 0)
				}
				if idx, ok := rhythm.SyllableSample(subCount, sub); ok && cfg.UseVoice && cfg.VoiceSubdivision {
					s.out.PlayBuffer(at, idx, rhythm.SubdivisionVolume, 0)
				}
			}
		}

		s.st.counter++
		s.st.next += 60 / float64(tempo) / float64(subCount)
	}
}

// scheduleCompound plays 6/8 as six eighth-note beats grouped in threes.
func (s *Scheduler) scheduleCompound(now, horizon float64, cfg rhythm.Config) {
	triplet := cfg.Subdivision == rhythm.SubdivisionTriplet

	for s.st.next < horizon {
		at := s.st.next
		tempo := s.tempoAt(cfg, at)
		beat := s.st.counter % 6
		accent := rhythm.CompoundAccent(beat) && cfg.AccentFirstBeat

		if cfg.UseClick {
			s.out.PlayTone(at, rhythm.BeatFrequencyFor(accent), rhythm.ClickVolume, rhythm.ToneDuration, 0)
		}
		if cfg.UseVoice {
			if idx, vol, ok := rhythm.CompoundVoice(beat, triplet); ok {
				s.out.PlayBuffer(at, idx, vol, 0)
			}
		}
		s.notifyBeat(now, at, beat)

		s.st.counter++
		s.st.next += 60 / float64(tempo)
	}
}

// schedulePoly always advances the pulse whose next beat is earliest, so
// output stays in time order across pulses.
func (s *Scheduler) schedulePoly(now, horizon float64, cfg rhythm.Config, poly rhythm.Polyrhythm) {
	if len(s.st.pulses) != len(poly.Pulses) {
		s.realign(s.st.next)
	}

	for {
		i := earliest(s.st.pulses)
		cur := &s.st.pulses[i]
		if cur.next >= horizon {
			return
		}

		pulse := poly.Pulses[i]
		at := cur.next
		tempo := s.tempoAt(cfg, at)
		beat := cur.counter % pulse.Beats
		accent := beat == 0 && pulse.AccentFirstBeat

		if pulse.UseClick {
			s.out.PlayTone(at, rhythm.BeatFrequencyFor(accent), rhythm.ClickVolume, rhythm.ToneDuration, pulse.Pan)
		}
		if pulse.UseVoice {
			s.out.PlayBuffer(at, rhythm.CountSample(beat), rhythm.ClickVolume, pulse.Pan)
		}
		if i == poly.Anchor {
			s.notifyBeat(now, at, beat)
		}

		cur.counter++
		cur.next += poly.BeatDuration(i, tempo)
	}
}

func earliest(pulses []pulseCursor) int {
	best := 0
	for i := range pulses {
		if pulses[i].next < pulses[best].next {
			best = i
		}
	}
	return best
}

// tempoAt returns the tempo for a beat at audio time at and reports ramp
// progress to subscribers.
func (s *Scheduler) tempoAt(cfg rhythm.Config, at float64) int {
	tempo := cfg.TempoAt(at - s.st.origin)
	if tempo != s.st.lastTempo {
		s.st.lastTempo = tempo
		if cfg.Ramp != nil {
			s.subs.emit(Event{Kind: EventTempo, BPM: tempo, At: at})
		}
	}
	return tempo
}

func (s *Scheduler) notifyBeat(now, at float64, beat int) {
	s.st.lastBeat = beat
	if now-s.st.lastUI < uiInterval {
		return
	}
	s.st.lastUI = now
	s.subs.emit(Event{Kind: EventActiveBeat, Beat: beat, At: at})
}

// catchUp advances the grid silently until the next beat is at or after
// now.
func (s *Scheduler) catchUp(now float64) {
	cfg := s.cfg
	if s.poly != nil {
		for i := range s.st.pulses {
			c := &s.st.pulses[i]
			for c.next < now {
				tempo := cfg.TempoAt(c.next - s.st.origin)
				c.next += s.poly.BeatDuration(i, tempo)
				c.counter++
			}
		}
		return
	}

	step := func(tempo int) float64 {
		if cfg.Signature.Compound {
			return 60 / float64(tempo)
		}
		return 60 / float64(tempo) / float64(cfg.Subdivision.Count())
	}
	for s.st.next < now {
		s.st.next += step(cfg.TempoAt(s.st.next - s.st.origin))
		s.st.counter++
	}
}
