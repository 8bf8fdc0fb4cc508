package metronome

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"

	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

type tone struct {
	at, freq, volume, pan float64
}

type sample struct {
	at     float64
	index  int
	volume float64
	pan    float64
}

type fakeOutput struct {
	mu      sync.Mutex
	now     float64
	err     error
	tones   []tone
	samples []sample
	loads   int
}

func (f *fakeOutput) EnsureRunning(context.Context) error { return f.err }

func (f *fakeOutput) LoadSamples(_ context.Context, names []string) []*beep.Buffer {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	return make([]*beep.Buffer, len(names))
}

func (f *fakeOutput) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) PlayTone(at, freq, volume, _, pan float64) {
	f.mu.Lock()
	f.tones = append(f.tones, tone{at, freq, volume, pan})
	f.mu.Unlock()
}

func (f *fakeOutput) PlayBuffer(at float64, index int, volume, pan float64) {
	f.mu.Lock()
	f.samples = append(f.samples, sample{at, index, volume, pan})
	f.mu.Unlock()
}

func (f *fakeOutput) set(now float64) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// advance moves the clock forward in 1/60 s steps, ticking the loop each
// time, until the clock reaches until.
func advance(s *Scheduler, f *fakeOutput, until float64) {
	for now := f.Now(); now < until; now += 1.0 / 60 {
		f.set(now)
		s.tick()
	}
	f.set(until)
	s.tick()
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestScheduler(cfg rhythm.Config) (*Scheduler, *fakeOutput) {
	out := &fakeOutput{}
	return New(out, cfg, DefaultOptions()), out
}

func clickConfig(tempo int) rhythm.Config {
	cfg := rhythm.DefaultConfig()
	cfg.Tempo = tempo
	return cfg
}

func TestFourFourClicks(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Horizon stops just short of t0+2s.
	advance(s, out, 1.9)

	t0 := 0.05
	want := []tone{
		{t0, 1000, 1, 0},
		{t0 + 0.5, 600, 1, 0},
		{t0 + 1.0, 600, 1, 0},
		{t0 + 1.5, 600, 1, 0},
	}
	if len(out.tones) != len(want) {
		t.Fatalf("got %d tones, want %d: %+v", len(out.tones), len(want), out.tones)
	}
	for i, w := range want {
		got := out.tones[i]
		if !near(got.at, w.at) || got.freq != w.freq || got.volume != w.volume {
			t.Errorf("tone %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestBeatSpacingAcrossTempos(t *testing.T) {
	for _, tempo := range []int{40, 73, 120, 217, 300} {
		for beats := 2; beats <= 7; beats++ {
			cfg := clickConfig(tempo)
			cfg.Signature = rhythm.TimeSignature{Beats: beats, Unit: 4}
			s, out := newTestScheduler(cfg)
			if err := s.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			advance(s, out, 5)

			if len(out.tones) < 3 {
				t.Fatalf("%d BPM %d/4: only %d tones", tempo, beats, len(out.tones))
			}
			want := 60 / float64(tempo)
			for i := 1; i < len(out.tones); i++ {
				if gap := out.tones[i].at - out.tones[i-1].at; !near(gap, want) {
					t.Errorf("%d BPM %d/4: gap %d = %v, want %v", tempo, beats, i, gap, want)
					break
				}
			}
			for i, tn := range out.tones {
				if accented := tn.freq == 1000; accented != (i%beats == 0) {
					t.Errorf("%d BPM %d/4: tone %d accent = %v", tempo, beats, i, accented)
					break
				}
			}
		}
	}
}

func TestNoAccent(t *testing.T) {
	cfg := clickConfig(120)
	cfg.AccentFirstBeat = false
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	advance(s, out, 0.5)
	if out.tones[0].freq != 600 {
		t.Errorf("first beat = %v Hz, want 600 without accent", out.tones[0].freq)
	}
}

func TestSwingTriplets(t *testing.T) {
	cfg := clickConfig(120)
	cfg.Subdivision = rhythm.SubdivisionTriplet
	cfg.Swing = true
	cfg.UseVoice = true
	cfg.VoiceSubdivision = true
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	advance(s, out, 0.4)

	// First beat only: 0.05, 0.2167 (skipped), 0.3833.
	var tones []tone
	for _, tn := range out.tones {
		if tn.at < 0.55 {
			tones = append(tones, tn)
		}
	}
	if len(tones) != 2 {
		t.Fatalf("got %d tones in first beat, want 2: %+v", len(tones), tones)
	}
	if tones[0].freq != 1000 {
		t.Errorf("main beat = %v Hz", tones[0].freq)
	}
	if !near(tones[1].at, 0.05+2*0.5/3) || tones[1].freq != 400 || tones[1].volume != 0.6 {
		t.Errorf("third triplet = %+v, want 400 Hz at 0.6", tones[1])
	}

	var samples []sample
	for _, sm := range out.samples {
		if sm.at < 0.55 {
			samples = append(samples, sm)
		}
	}
	if len(samples) != 2 {
		t.Fatalf("got %d voice samples, want 2: %+v", len(samples), samples)
	}
	if samples[0].index != 0 || samples[0].volume != 1 {
		t.Errorf("count = %+v, want index 0", samples[0])
	}
	if samples[1].index != rhythm.SampleAh || samples[1].volume != 0.6 {
		t.Errorf("syllable = %+v, want \"ah\" at 0.6", samples[1])
	}
}

func TestSubdivisionVoiceNeedsFlag(t *testing.T) {
	cfg := clickConfig(120)
	cfg.Subdivision = rhythm.SubdivisionHalf
	cfg.UseVoice = true
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	advance(s, out, 1)
	for _, sm := range out.samples {
		if sm.index >= rhythm.CountSamples {
			t.Fatalf("syllable %d spoken without voice subdivision", sm.index)
		}
	}
	if len(out.tones) == 0 || out.tones[1].freq != 400 {
		t.Errorf("half subdivision click missing: %+v", out.tones)
	}
}

func TestCompoundSixEight(t *testing.T) {
	cfg := clickConfig(120)
	cfg.Signature = rhythm.Compound
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	advance(s, out, 2.9)

	want := []float64{1000, 600, 600, 1000, 600, 600}
	if len(out.tones) != len(want) {
		t.Fatalf("got %d tones, want %d", len(out.tones), len(want))
	}
	for i, f := range want {
		if out.tones[i].freq != f {
			t.Errorf("beat %d = %v Hz, want %v", i, out.tones[i].freq, f)
		}
		if !near(out.tones[i].at, 0.05+float64(i)*0.5) {
			t.Errorf("beat %d at %v", i, out.tones[i].at)
		}
	}
}

func TestCompoundVoiceWithTriplets(t *testing.T) {
	cfg := clickConfig(120)
	cfg.Signature = rhythm.Compound
	cfg.Subdivision = rhythm.SubdivisionQuarter // normalized to triplet
	cfg.UseVoice = true
	cfg.UseClick = false
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	advance(s, out, 2.9)

	want := []int{0, rhythm.SampleEe, rhythm.SampleAh, 1, rhythm.SampleEe, rhythm.SampleAh}
	if len(out.samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out.samples), len(want))
	}
	for i, idx := range want {
		if out.samples[i].index != idx {
			t.Errorf("beat %d sample = %d, want %d", i, out.samples[i].index, idx)
		}
	}
	if len(out.tones) != 0 {
		t.Error("click played with click disabled")
	}
}

func TestPolyrhythmThreeAgainstTwo(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	events, cancel := s.Subscribe(256)
	defer cancel()

	err := s.SetPolyrhythm(&rhythm.Polyrhythm{
		Pulses: []rhythm.PulseConfig{
			{Beats: 3, UseClick: true, AccentFirstBeat: true, Pan: -0.5},
			{Beats: 2, UseClick: true, Pan: 0.5},
		},
		Anchor: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	advance(s, out, 1.4) // horizon short of the next cycle at t0+1.5

	var left, right []float64
	for _, tn := range out.tones {
		switch tn.pan {
		case -0.5:
			left = append(left, tn.at)
		case 0.5:
			right = append(right, tn.at)
		default:
			t.Errorf("unexpected pan %v", tn.pan)
		}
	}
	t0 := 0.05
	for i, want := range []float64{t0, t0 + 0.5, t0 + 1.0} {
		if i >= len(left) || !near(left[i], want) {
			t.Fatalf("anchor pulse = %v", left)
		}
	}
	for i, want := range []float64{t0, t0 + 0.75} {
		if i >= len(right) || !near(right[i], want) {
			t.Fatalf("second pulse = %v", right)
		}
	}
	if len(left) != 3 || len(right) != 2 {
		t.Errorf("got %d/%d beats, want 3/2", len(left), len(right))
	}
	for i := 1; i < len(out.tones); i++ {
		if out.tones[i].at < out.tones[i-1].at {
			t.Errorf("tones out of order at %d", i)
		}
	}

	var beats []int
	drain(events, func(ev Event) {
		if ev.Kind == EventActiveBeat {
			beats = append(beats, ev.Beat)
		}
	})
	if len(beats) != 3 || beats[0] != 0 || beats[1] != 1 || beats[2] != 2 {
		t.Errorf("active beats = %v, want anchor beats [0 1 2]", beats)
	}
}

func TestTempoRamp(t *testing.T) {
	cfg := clickConfig(100)
	cfg.Ramp = &rhythm.Ramp{StartBPM: 100, EndBPM: 140, Duration: 1}
	s, out := newTestScheduler(cfg)
	events, cancel := s.Subscribe(1024)
	defer cancel()

	s.Start(context.Background())
	advance(s, out, 30)

	if got := s.CurrentTempo(); got < 119 || got > 121 {
		t.Errorf("CurrentTempo at 30s = %d, want 120", got)
	}

	// Spacing of the last two beats reflects roughly 120 BPM.
	n := len(out.tones)
	gap := out.tones[n-1].at - out.tones[n-2].at
	if math.Abs(gap-0.5) > 0.01 {
		t.Errorf("beat gap at 30s = %v, want about 0.5", gap)
	}

	sawTempo := false
	drain(events, func(ev Event) {
		if ev.Kind == EventTempo {
			sawTempo = true
		}
	})
	if !sawTempo {
		t.Error("no tempo events during ramp")
	}
}

func TestReplacedRampStartsFromItsBeginning(t *testing.T) {
	cfg := clickConfig(100)
	cfg.Ramp = &rhythm.Ramp{StartBPM: 100, EndBPM: 140, Duration: 1}
	s, out := newTestScheduler(cfg)

	s.Start(context.Background())
	advance(s, out, 61)
	if got := s.CurrentTempo(); got != 140 {
		t.Fatalf("CurrentTempo after the first ramp = %d, want 140", got)
	}

	back := s.Config()
	back.Ramp = &rhythm.Ramp{StartBPM: 140, EndBPM: 100, Duration: 1}
	s.Update(back)
	advance(s, out, 63)
	if got := s.CurrentTempo(); got < 138 {
		t.Errorf("CurrentTempo 2s into the new ramp = %d, want about 139", got)
	}
}

func TestStopThenStartResets(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	events, cancel := s.Subscribe(256)
	defer cancel()

	s.Start(context.Background())
	advance(s, out, 1.2)
	s.Stop()
	if s.Playing() {
		t.Fatal("still playing after Stop")
	}

	var sawStop bool
	drain(events, func(ev Event) {
		if ev.Kind == EventActiveBeat && ev.Beat == -1 {
			sawStop = true
		}
	})
	if !sawStop {
		t.Error("no -1 beat on stop")
	}

	out.tones = nil
	s.Start(context.Background())
	advance(s, out, 1.3)
	if len(out.tones) == 0 || out.tones[0].freq != 1000 {
		t.Fatalf("restart did not begin on an accented beat 0: %+v", out.tones)
	}
	if !near(out.tones[0].at, 1.2+0.05) {
		t.Errorf("restart first beat at %v, want 1.25", out.tones[0].at)
	}

	var first *Event
	drain(events, func(ev Event) {
		if ev.Kind == EventActiveBeat && first == nil {
			first = &ev
		}
	})
	if first == nil || first.Beat != 0 {
		t.Errorf("first active beat after restart = %+v, want 0", first)
	}
}

func TestStartWhilePlayingIsNoop(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	s.Start(context.Background())
	advance(s, out, 0.6)
	s.Start(context.Background())
	advance(s, out, 1.0)
	for i := 1; i < len(out.tones); i++ {
		if !near(out.tones[i].at-out.tones[i-1].at, 0.5) {
			t.Fatalf("grid broken by second Start: %+v", out.tones)
		}
	}
}

func TestStartFailsWithoutAudio(t *testing.T) {
	out := &fakeOutput{err: errors.New("no device")}
	s := New(out, clickConfig(120), DefaultOptions())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without audio")
	}
	if s.Playing() {
		t.Error("playing after failed start")
	}
}

func TestSamplesLoadedOnce(t *testing.T) {
	cfg := clickConfig(120)
	cfg.UseVoice = true
	s, out := newTestScheduler(cfg)
	s.Start(context.Background())
	s.Stop()
	s.Start(context.Background())
	if out.loads != 1 {
		t.Errorf("LoadSamples called %d times, want 1", out.loads)
	}

	s2, out2 := newTestScheduler(clickConfig(120))
	s2.Start(context.Background())
	if out2.loads != 0 {
		t.Error("samples loaded without voice")
	}
}

func TestUpdateTempoKeepsCount(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	s.Start(context.Background())
	advance(s, out, 0.6) // beats 0 and 1 scheduled

	cfg := s.Config()
	cfg.Tempo = 60
	s.Update(cfg)
	advance(s, out, 2.6)

	// Beat 2 at 1.05, beat 3 at 2.05: neither accented.
	for _, tn := range out.tones[2:] {
		if tn.freq == 1000 {
			t.Errorf("tempo change restarted the bar: %+v", out.tones)
		}
	}
	if !near(out.tones[3].at-out.tones[2].at, 1.0) {
		t.Errorf("new tempo not applied: %+v", out.tones)
	}
}

func TestUpdateSubdivisionRestartsBar(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	s.Start(context.Background())
	advance(s, out, 0.6)

	cfg := s.Config()
	cfg.Subdivision = rhythm.SubdivisionHalf
	s.Update(cfg)
	advance(s, out, 1.0)

	if got := out.tones[2].freq; got != 1000 {
		t.Errorf("first beat after subdivision change = %v Hz, want accented", got)
	}
}

func TestStartAtJoinsGridLate(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	out.set(10)
	// Leader's first beat was 1.2 s ago: beats at 8.8, 9.3, 9.8, 10.3...
	if err := s.StartAt(context.Background(), 8.8); err != nil {
		t.Fatal(err)
	}
	advance(s, out, 10.25)

	if len(out.tones) == 0 {
		t.Fatal("no tones")
	}
	first := out.tones[0]
	if !near(first.at, 10.3) {
		t.Errorf("first tone at %v, want 10.3", first.at)
	}
	// 8.8 + 3 beats: beat index 3 of the bar, not accented.
	if first.freq != 600 {
		t.Errorf("first tone = %v Hz, want unaccented beat 3", first.freq)
	}
}

func TestStartAtFuture(t *testing.T) {
	s, out := newTestScheduler(clickConfig(120))
	s.StartAt(context.Background(), 2)
	advance(s, out, 1.8)
	if len(out.tones) != 0 {
		t.Errorf("tones before start time: %+v", out.tones)
	}
	advance(s, out, 2)
	if len(out.tones) != 1 || !near(out.tones[0].at, 2) {
		t.Errorf("tones = %+v, want one at 2.0", out.tones)
	}
}

func TestActiveBeatThrottle(t *testing.T) {
	out := &fakeOutput{}
	opts := DefaultOptions()
	opts.Lookahead = time.Second
	s := New(out, clickConfig(300), opts)
	events, cancel := s.Subscribe(64)
	defer cancel()

	s.Start(context.Background())
	s.tick() // five beats fall inside one iteration

	if len(out.tones) < 5 {
		t.Fatalf("got %d tones, want at least 5", len(out.tones))
	}
	n := 0
	drain(events, func(ev Event) {
		if ev.Kind == EventActiveBeat {
			n++
			if ev.Beat != 0 {
				t.Errorf("first notified beat = %d, want 0", ev.Beat)
			}
		}
	})
	if n != 1 {
		t.Errorf("got %d active-beat events in one iteration, want 1", n)
	}
}

func TestSetPolyrhythmRejectsEmpty(t *testing.T) {
	s, _ := newTestScheduler(clickConfig(120))
	if err := s.SetPolyrhythm(&rhythm.Polyrhythm{}); err == nil {
		t.Error("empty polyrhythm accepted")
	}
	if s.Polyrhythm() != nil {
		t.Error("rejected polyrhythm was applied")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestScheduler(clickConfig(120))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	s.Start(context.Background())
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if s.Playing() {
		t.Error("still playing after Run returned")
	}
}

func drain(ch <-chan Event, fn func(Event)) {
	for {
		select {
		case ev := <-ch:
			fn(ev)
		default:
			return
		}
	}
}
