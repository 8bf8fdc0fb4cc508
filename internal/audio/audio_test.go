package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

type fakeBackend struct {
	src    beep.Streamer
	closed int
}

func (f *fakeBackend) Start(src beep.Streamer) error {
	f.src = src
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed++
	return nil
}

func newTestContext(t *testing.T) (*Context, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	c := NewContext(SampleRate, func(beep.SampleRate) (Backend, error) { return fb, nil }, nil)
	if err := c.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	return c, fb
}

func render(c *Context, frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	c.Stream(buf)
	return buf
}

func peak(buf [][2]float64, ch int) float64 {
	max := 0.0
	for _, s := range buf {
		if v := math.Abs(s[ch]); v > max {
			max = v
		}
	}
	return max
}

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- Clock ---

func TestEnsureRunningWithoutBackend(t *testing.T) {
	c := NewContext(SampleRate, nil, nil)
	if err := c.EnsureRunning(context.Background()); !errors.Is(err, ErrAudioUnavailable) {
		t.Errorf("err = %v, want ErrAudioUnavailable", err)
	}
}

func TestEnsureRunningBackendError(t *testing.T) {
	c := NewContext(SampleRate, func(beep.SampleRate) (Backend, error) {
		return nil, errors.New("no device")
	}, nil)
	err := c.EnsureRunning(context.Background())
	if !errors.Is(err, ErrAudioUnavailable) {
		t.Errorf("err = %v, want ErrAudioUnavailable", err)
	}
	if c.Running() {
		t.Error("Running after failed start")
	}
}

func TestEnsureRunningIdempotent(t *testing.T) {
	opened := 0
	fb := &fakeBackend{}
	c := NewContext(SampleRate, func(beep.SampleRate) (Backend, error) {
		opened++
		return fb, nil
	}, nil)
	for i := 0; i < 3; i++ {
		if err := c.EnsureRunning(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if opened != 1 {
		t.Errorf("backend opened %d times, want 1", opened)
	}
	if fb.src != c {
		t.Error("backend not wired to the mixer")
	}
}

func TestClockCountsRenderedFrames(t *testing.T) {
	c, _ := newTestContext(t)
	if c.Now() != 0 {
		t.Fatalf("Now = %v before rendering", c.Now())
	}
	render(c, SampleRate/2)
	if got := c.Now(); got != 0.5 {
		t.Errorf("Now = %v, want 0.5", got)
	}
}

func TestSuspendFreezesClock(t *testing.T) {
	c, _ := newTestContext(t)
	c.PlayTone(0, 600, 1, 1, 0)
	render(c, 480)

	c.Suspend()
	render(c, 480) // fade block
	frozen := c.Now()
	buf := render(c, 480)
	if c.Now() != frozen {
		t.Errorf("clock moved while suspended: %v -> %v", frozen, c.Now())
	}
	if peak(buf, 0) != 0 {
		t.Error("output not silent while suspended")
	}

	if err := c.EnsureRunning(context.Background()); err != nil {
		t.Fatal(err)
	}
	render(c, 480)
	if c.Now() <= frozen {
		t.Error("clock did not resume")
	}
}

// --- Mixer ---

func TestToneStartsOnItsFrame(t *testing.T) {
	c, _ := newTestContext(t)
	c.PlayTone(0.01, 1000, 1, 0.1, 0) // frame 480

	buf := render(c, 960)
	if p := peak(buf[:480], 0); p != 0 {
		t.Errorf("sound before start frame: peak %v", p)
	}
	if p := peak(buf[480:], 0); p == 0 {
		t.Error("no sound after start frame")
	}
}

func TestToneInPastPlaysImmediately(t *testing.T) {
	c, _ := newTestContext(t)
	render(c, 4800)
	c.PlayTone(0.01, 600, 1, 0.05, 0)
	buf := render(c, 480)
	if peak(buf, 0) == 0 {
		t.Error("late tone was not played")
	}
}

func TestVoiceSpansBlocks(t *testing.T) {
	c, _ := newTestContext(t)
	c.PlayTone(0, 600, 1, 0.1, 0) // 4800 frames
	for i := 0; i < 4; i++ {
		render(c, 1000)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d mid-tone, want 1", c.Pending())
	}
	render(c, 1000)
	render(c, 1000)
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after tone, want 0", c.Pending())
	}
}

func TestTonePan(t *testing.T) {
	c, _ := newTestContext(t)
	c.PlayTone(0, 600, 1, 0.05, -1)
	buf := render(c, 2400)
	if peak(buf, 0) == 0 {
		t.Error("left channel silent for hard-left pan")
	}
	if peak(buf, 1) != 0 {
		t.Error("right channel audible for hard-left pan")
	}
}

func TestZeroVolumeToneIsSkipped(t *testing.T) {
	c, _ := newTestContext(t)
	c.PlayTone(0, 600, 0, 0.1, 0)
	if c.Pending() != 0 {
		t.Error("silent tone was queued")
	}
}

// --- Envelope ---

func TestEnvelopeShape(t *testing.T) {
	if Envelope(0, 1, 0.1) != 0 {
		t.Error("envelope should start at zero")
	}
	if got := Envelope(attackTime, 0.6, 0.1); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("peak = %v, want 0.6", got)
	}
	end := Envelope(0.0999, 1, 0.1)
	if end > 1e-4 {
		t.Errorf("tail = %v, want near silence", end)
	}
	if Envelope(0.2, 1, 0.1) != 0 {
		t.Error("envelope nonzero after duration")
	}
	prev := Envelope(attackTime, 1, 0.1)
	for ts := attackTime; ts < 0.1; ts += 0.001 {
		v := Envelope(ts, 1, 0.1)
		if v > prev+1e-12 {
			t.Fatalf("decay not monotonic at %v", ts)
		}
		prev = v
	}
}

// --- Samples ---

func writeWav(t *testing.T, dir, name string, rate beep.SampleRate, frames int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]float64, frames)
	for i := range data {
		data[i] = 0.5
	}
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, &monoStreamer{data: data}, format); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSamplesKeepsHoles(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, dir, "1.wav", SampleRate, 480)
	writeWav(t, dir, "and.wav", SampleRate, 240)

	fb := &fakeBackend{}
	c := NewContext(SampleRate, func(beep.SampleRate) (Backend, error) { return fb, nil }, os.DirFS(dir))
	bufs := c.LoadSamples(context.Background(), []string{"1", "2", "and"})

	if len(bufs) != 3 {
		t.Fatalf("len = %d, want 3", len(bufs))
	}
	if bufs[0] == nil || bufs[0].Len() != 480 {
		t.Errorf("sample 0 = %v", bufs[0])
	}
	if bufs[1] != nil {
		t.Error("missing sample should be nil")
	}
	if bufs[2] == nil || bufs[2].Len() != 240 {
		t.Errorf("sample 2 = %v", bufs[2])
	}
}

func TestLoadSamplesResamples(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, dir, "1.wav", 24000, 2400)

	c := NewContext(SampleRate, nil, os.DirFS(dir))
	bufs := c.LoadSamples(context.Background(), []string{"1"})
	if bufs[0] == nil {
		t.Fatal("sample not loaded")
	}
	if got := bufs[0].Len(); got < 4700 || got > 4900 {
		t.Errorf("resampled length = %d, want about 4800", got)
	}
}

func TestPlayBuffer(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, dir, "1.wav", SampleRate, 480)

	c, _ := newTestContext(t)
	c.assets = os.DirFS(dir)
	c.LoadSamples(context.Background(), []string{"1"})

	c.PlayBuffer(0, 5, 1, 0) // out of range: skipped
	if c.Pending() != 0 {
		t.Fatal("missing sample was queued")
	}

	c.PlayBuffer(0, 0, 0.5, 0)
	buf := render(c, 480)
	if got := buf[10][0]; math.Abs(got-0.25) > 0.01 {
		t.Errorf("sample level = %v, want 0.25", got)
	}
}

// --- Conversion ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Smoothstep(tt.input)
		if got != tt.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFadeOutEndsSilent(t *testing.T) {
	buf := make([][2]float64, 100)
	for i := range buf {
		buf[i] = [2]float64{1, 1}
	}
	FadeOut(buf)
	if buf[99][0] != 0 {
		t.Errorf("last sample = %v, want 0", buf[99][0])
	}
	if buf[0][0] < 0.99 {
		t.Errorf("first sample = %v, want near 1", buf[0][0])
	}
}

func TestToInt16Clipping(t *testing.T) {
	got := ToInt16(nil, [][2]float64{{2, -2}, {0.5, 0}})
	want := []int16{32767, -32768, 16383, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

// --- Pipeline ---

func TestPipelineFactoryRejectsOtherRates(t *testing.T) {
	p := NewPipeline()
	if _, err := p.Factory()(44100); err == nil {
		t.Error("pipeline accepted 44.1kHz")
	}
}

func TestPipelineRendersFrames(t *testing.T) {
	p := NewPipeline()
	c := NewContext(SampleRate, p.Factory(), nil)
	if err := c.EnsureRunning(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.PlayTone(0, 600, 1, 0.5, 0)

	select {
	case frame := <-p.Frames():
		if len(frame) != FrameSamples {
			t.Errorf("frame length = %d, want %d", len(frame), FrameSamples)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame rendered")
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	for range p.Frames() {
	}
	if c.Now() <= 0 {
		t.Error("clock did not advance")
	}
}

func TestPipelineCloseBeforeStart(t *testing.T) {
	p := NewPipeline()
	if err := p.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
