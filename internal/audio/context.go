package audio

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

type voice struct {
	start    int64 // absolute frame the voice begins on
	streamer beep.Streamer
}

// Context owns the audio clock and the mixer. The clock is the number of
// frames the backend has pulled, so it only advances while audio is
// actually being rendered.
//
// Context implements beep.Streamer; the backend calls Stream from its own
// goroutine.
type Context struct {
	sampleRate beep.SampleRate
	open       BackendFactory
	assets     fs.FS
	tones      *signal.Generator

	startMu sync.Mutex // serializes EnsureRunning

	mu        sync.Mutex
	backend   Backend
	suspended bool
	fadeOut   bool
	voices    []*voice
	samples   []*beep.Buffer
	scratch   [][2]float64

	frames atomic.Int64
}

// NewContext creates a context that opens its backend lazily on the first
// EnsureRunning. assets is where LoadSamples looks for voice files; it may
// be nil when no samples are used.
func NewContext(sampleRate int, open BackendFactory, assets fs.FS) *Context {
	return &Context{
		sampleRate: beep.SampleRate(sampleRate),
		open:       open,
		assets:     assets,
		tones:      signal.NewGenerator(core.WithSampleRate(float64(sampleRate))),
	}
}

func (c *Context) SampleRate() beep.SampleRate {
	return c.sampleRate
}

// Now returns the audio clock in seconds.
func (c *Context) Now() float64 {
	return float64(c.frames.Load()) / float64(c.sampleRate)
}

// EnsureRunning opens and starts the backend if needed and resumes a
// suspended clock. It is a no-op when audio is already running.
func (c *Context) EnsureRunning(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.backend != nil {
		if c.suspended {
			c.suspended = false
			c.fadeOut = false
			log.Info("Audio clock resumed")
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.open == nil {
		return ErrAudioUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := c.open(c.sampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	if err := b.Start(c); err != nil {
		b.Close()
		return fmt.Errorf("%w: start backend: %v", ErrAudioUnavailable, err)
	}

	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
	log.WithField("sample_rate", int(c.sampleRate)).Info("Audio output started")
	return nil
}

// Running reports whether the backend is open and the clock is advancing.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend != nil && !c.suspended
}

// Suspend freezes the clock and silences output after a short fade. Voices
// already queued keep their frame positions and play on resume.
func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil || c.suspended {
		return
	}
	c.suspended = true
	c.fadeOut = true
	log.Info("Audio clock suspended")
}

// Close stops the backend and drops every pending voice.
func (c *Context) Close() error {
	c.mu.Lock()
	b := c.backend
	c.backend = nil
	c.voices = nil
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

// Stream mixes every voice that overlaps the next len(samples) frames and
// advances the clock.
func (c *Context) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suspended && !c.fadeOut {
		return len(samples), true
	}

	now := c.frames.Load()
	n := int64(len(samples))
	if cap(c.scratch) < len(samples) {
		c.scratch = make([][2]float64, len(samples))
	}

	live := c.voices[:0]
	for _, v := range c.voices {
		off := v.start - now
		if off < 0 {
			off = 0
		}
		if off >= n {
			live = append(live, v)
			continue
		}
		buf := c.scratch[:n-off]
		got, ok := v.streamer.Stream(buf)
		for i := 0; i < got; i++ {
			samples[off+int64(i)][0] += buf[i][0]
			samples[off+int64(i)][1] += buf[i][1]
		}
		if ok && got == len(buf) {
			v.start = now + n
			live = append(live, v)
		}
	}
	for i := len(live); i < len(c.voices); i++ {
		c.voices[i] = nil
	}
	c.voices = live

	if c.fadeOut {
		FadeOut(samples)
		c.fadeOut = false
	}
	c.frames.Add(n)
	return len(samples), true
}

func (c *Context) Err() error {
	return nil
}

// Pending returns the number of voices not yet finished.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// schedule queues s to begin at audio time at. Times already in the past
// start on the next rendered frame.
func (c *Context) schedule(at float64, s beep.Streamer) {
	start := int64(math.Round(at * float64(c.sampleRate)))
	c.mu.Lock()
	c.voices = append(c.voices, &voice{start: start, streamer: s})
	c.mu.Unlock()
}

// PlayTone schedules a sine click at audio time at. The envelope rises
// linearly to volume over a few milliseconds and then decays exponentially
// to near silence at duration seconds.
func (c *Context) PlayTone(at, freq, volume, duration, pan float64) {
	if duration <= 0 || volume <= 0 {
		return
	}
	n := int(duration * float64(c.sampleRate))
	if n <= 0 {
		return
	}
	wave, err := c.tones.Sine(freq, 1, n)
	if err != nil {
		log.WithError(err).Warn("Tone render failed")
		return
	}
	rate := float64(c.sampleRate)
	for i := range wave {
		wave[i] *= Envelope(float64(i)/rate, volume, duration)
	}

	var s beep.Streamer = &monoStreamer{data: wave}
	if pan != 0 {
		s = &effects.Pan{Streamer: s, Pan: core.Clamp(pan, -1, 1)}
	}
	c.schedule(at, s)
}

// PlayBuffer schedules loaded sample index at audio time at. A missing
// sample is skipped.
func (c *Context) PlayBuffer(at float64, index int, volume, pan float64) {
	c.mu.Lock()
	var buf *beep.Buffer
	if index >= 0 && index < len(c.samples) {
		buf = c.samples[index]
	}
	c.mu.Unlock()
	if buf == nil {
		log.WithField("index", index).Debug("No sample loaded, skipping")
		return
	}

	var s beep.Streamer = buf.Streamer(0, buf.Len())
	if volume != 1 {
		s = &effects.Gain{Streamer: s, Gain: volume - 1}
	}
	if pan != 0 {
		s = &effects.Pan{Streamer: s, Pan: core.Clamp(pan, -1, 1)}
	}
	c.schedule(at, s)
}

// Samples returns the buffers from the last LoadSamples call.
func (c *Context) Samples() []*beep.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*beep.Buffer(nil), c.samples...)
}

const (
	attackTime = 0.005
	decayFloor = 1e-5
)

// Envelope returns the click gain t seconds into a tone.
func Envelope(t, volume, duration float64) float64 {
	switch {
	case t < 0 || t >= duration:
		return 0
	case t < attackTime:
		return volume * t / attackTime
	case volume <= decayFloor:
		return volume
	}
	progress := (t - attackTime) / (duration - attackTime)
	return volume * math.Pow(decayFloor/volume, progress)
}

// monoStreamer plays a mono slice on both channels.
type monoStreamer struct {
	data []float64
	pos  int
}

func (m *monoStreamer) Stream(samples [][2]float64) (int, bool) {
	if m.pos >= len(m.data) {
		return 0, false
	}
	n := copy2(samples, m.data[m.pos:])
	m.pos += n
	return n, true
}

func (m *monoStreamer) Err() error {
	return nil
}

func copy2(dst [][2]float64, src []float64) int {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i][0] = src[i]
		dst[i][1] = src[i]
	}
	return n
}
