// Package metronome turns a rhythm configuration into sample-accurate
// clicks and spoken counts using a look-ahead scheduler.
//
// A coarse timer wakes the loop about sixty times a second. Each wake-up
// schedules every beat falling inside the look-ahead window at its exact
// audio-clock time, so timer jitter never reaches the output.
package metronome

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/sirupsen/logrus"

	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

var log = logrus.WithField("component", "metronome")

// Output is the audio primitive the scheduler drives.
type Output interface {
	EnsureRunning(ctx context.Context) error
	LoadSamples(ctx context.Context, names []string) []*beep.Buffer
	Now() float64
	PlayTone(at, freq, volume, duration, pan float64)
	PlayBuffer(at float64, index int, volume, pan float64)
}

// Options tunes the timing loop.
type Options struct {
	Lookahead    time.Duration // how far ahead of the clock beats are queued
	TickInterval time.Duration // how often the loop wakes
	LeadIn       time.Duration // delay before the first beat of Start
}

func DefaultOptions() Options {
	return Options{
		Lookahead:    100 * time.Millisecond,
		TickInterval: time.Second / 60,
		LeadIn:       50 * time.Millisecond,
	}
}

// uiInterval is the minimum audio time between active-beat events.
const uiInterval = 1.0 / 60

// Status is a snapshot for status endpoints.
type Status struct {
	Playing     bool          `json:"playing"`
	Tempo       int           `json:"tempo"`
	Config      rhythm.Config `json:"config"`
	Polyrhythm  bool          `json:"polyrhythm"`
	CurrentBeat int           `json:"current_beat"`
}

type pulseCursor struct {
	next    float64
	counter int
}

// schedule is the loop-owned state, reset on every start and stop.
type schedule struct {
	origin    float64 // audio time of the first beat; ramps count from here
	next      float64
	counter   int
	lastUI    float64
	lastTempo int
	lastBeat  int
	pulses    []pulseCursor
}

// Scheduler plays one rhythm at a time. It is safe for concurrent use.
type Scheduler struct {
	out  Output
	opts Options
	subs subscribers

	mu            sync.Mutex
	cfg           rhythm.Config
	poly          *rhythm.Polyrhythm
	playing       bool
	samplesLoaded bool
	st            schedule

	eventsOnce sync.Once
	events     chan Event
}

// New creates a stopped scheduler.
func New(out Output, cfg rhythm.Config, opts Options) *Scheduler {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultOptions().Lookahead
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultOptions().TickInterval
	}
	if opts.LeadIn < 0 {
		opts.LeadIn = 0
	}
	return &Scheduler{
		out:  out,
		opts: opts,
		cfg:  cfg.Normalize(),
		st:   schedule{lastBeat: -1},
	}
}

// Events returns the scheduler's default event stream.
func (s *Scheduler) Events() <-chan Event {
	s.eventsOnce.Do(func() {
		s.events = s.subs.add(64)
	})
	return s.events
}

// Subscribe adds another event listener. Call the returned func to stop
// listening; it closes the channel.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	ch := s.subs.add(buffer)
	return ch, func() { s.subs.remove(ch) }
}

// Run drives the scheduling loop until ctx is cancelled. Playback itself
// is controlled with Start and Stop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Start begins playback a short lead-in after the current audio time.
// Starting while already playing does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, math.NaN(), false)
}

// StartAt begins playback with the first beat at audio time at. If at is
// already past, the beat grid is advanced so playback joins in step. A
// running scheduler is restarted on the new grid.
func (s *Scheduler) StartAt(ctx context.Context, at float64) error {
	return s.start(ctx, at, true)
}

func (s *Scheduler) start(ctx context.Context, at float64, restart bool) error {
	s.mu.Lock()
	if s.playing && !restart {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.out.EnsureRunning(ctx); err != nil {
		return fmt.Errorf("start metronome: %w", err)
	}

	s.mu.Lock()
	needSamples := !s.samplesLoaded && s.needsVoice()
	s.mu.Unlock()
	if needSamples {
		s.out.LoadSamples(ctx, rhythm.VoiceSamples)
		s.mu.Lock()
		s.samplesLoaded = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing && !restart {
		return nil
	}

	now := s.out.Now()
	first := now + s.opts.LeadIn.Seconds()
	if !math.IsNaN(at) {
		first = at
	}
	s.reset(first)
	if first < now {
		s.catchUp(now)
	}
	s.playing = true

	tempo := s.cfg.TempoAt(0)
	s.st.lastTempo = tempo
	s.subs.emit(Event{Kind: EventStarted, BPM: tempo, At: first})
	log.WithFields(logrus.Fields{
		"tempo":     tempo,
		"signature": s.cfg.Signature.String(),
		"poly":      s.poly != nil,
	}).Infof("Metronome started at %.3fs", first)
	return nil
}

// Stop halts playback and resets the beat grid.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.playing = false
	s.st = schedule{lastBeat: -1}
	s.subs.emit(Event{Kind: EventActiveBeat, Beat: -1})
	s.subs.emit(Event{Kind: EventStopped})
	log.Info("Metronome stopped")
}

// Update replaces the rhythm configuration. The next loop iteration uses
// the new values. Changes that reshape the bar restart the count on the
// next beat; tempo changes keep it.
func (s *Scheduler) Update(cfg rhythm.Config) {
	cfg = cfg.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.playing && !prev.SameGrid(cfg) {
		s.st.counter = 0
	}
	if s.playing && cfg.Ramp != nil && (prev.Ramp == nil || *prev.Ramp != *cfg.Ramp) {
		s.st.origin = s.upcoming()
	}
}

// SetPolyrhythm switches to polyrhythm mode, or back to the single-pulse
// rhythm when p is nil. While playing, all pulses realign on the next beat.
func (s *Scheduler) SetPolyrhythm(p *rhythm.Polyrhythm) error {
	var poly *rhythm.Polyrhythm
	if p != nil {
		n := p.Normalize()
		if err := n.Validate(); err != nil {
			return err
		}
		poly = &n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.upcoming()
	s.poly = poly
	if s.playing {
		s.realign(next)
	}
	return nil
}

// Config returns the current single-pulse configuration.
func (s *Scheduler) Config() rhythm.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Polyrhythm returns the active polyrhythm, or nil.
func (s *Scheduler) Polyrhythm() *rhythm.Polyrhythm {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poly == nil {
		return nil
	}
	p := *s.poly
	p.Pulses = append([]rhythm.PulseConfig(nil), s.poly.Pulses...)
	return &p
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// CurrentTempo is the tempo of the most recently scheduled beat, which
// differs from the configured tempo during a ramp.
func (s *Scheduler) CurrentTempo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing && s.st.lastTempo > 0 {
		return s.st.lastTempo
	}
	return s.cfg.TempoAt(0)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	tempo := s.cfg.TempoAt(0)
	if s.playing && s.st.lastTempo > 0 {
		tempo = s.st.lastTempo
	}
	return Status{
		Playing:     s.playing,
		Tempo:       tempo,
		Config:      s.cfg,
		Polyrhythm:  s.poly != nil,
		CurrentBeat: s.st.lastBeat,
	}
}

func (s *Scheduler) needsVoice() bool {
	if s.poly != nil {
		for _, p := range s.poly.Pulses {
			if p.UseVoice {
				return true
			}
		}
	}
	return s.cfg.UseVoice
}

// reset puts every cursor on first with empty counters.
func (s *Scheduler) reset(first float64) {
	s.st = schedule{
		origin:   first,
		lastUI:   math.Inf(-1),
		lastBeat: -1,
	}
	s.realign(first)
}

func (s *Scheduler) realign(at float64) {
	s.st.next = at
	s.st.counter = 0
	s.st.pulses = s.st.pulses[:0]
	if s.poly != nil {
		for range s.poly.Pulses {
			s.st.pulses = append(s.st.pulses, pulseCursor{next: at})
		}
	}
}

// upcoming is the time of the next beat that has not been scheduled yet.
func (s *Scheduler) upcoming() float64 {
	if len(s.st.pulses) > 0 && s.poly != nil && s.poly.Anchor < len(s.st.pulses) {
		return s.st.pulses[s.poly.Anchor].next
	}
	return s.st.next
}
