// Package device plays the mixer through the system sound card via oto.
package device

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep"
	"github.com/sirupsen/logrus"

	"github.com/accesstechnology-mike/drumclick/internal/audio"
)

var log = logrus.WithField("component", "device")

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Player pulls float32 stereo frames from a beep.Streamer on oto's
// callback goroutine.
type Player struct {
	ctx    *oto.Context
	player *oto.Player
	src    atomic.Pointer[beep.Streamer]
	buf    [][2]float64

	mu      sync.Mutex
	started bool
}

// Open is an audio.BackendFactory for the default output device.
func Open(sr beep.SampleRate) (audio.Backend, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   int(sr),
			ChannelCount: audio.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   20 * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(op)
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, otoErr
	}
	return &Player{ctx: otoCtx}, nil
}

func (p *Player) Start(src beep.Streamer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("device player already started")
	}
	p.src.Store(&src)
	p.player = p.ctx.NewPlayer(p)
	p.player.Play()
	p.started = true
	log.Info("Sound device opened")
	return nil
}

// Read fills p with little-endian float32 samples.
func (p *Player) Read(b []byte) (int, error) {
	src := p.src.Load()
	frames := len(b) / (4 * audio.Channels)
	if src == nil || frames == 0 {
		clear(b)
		return len(b), nil
	}

	if cap(p.buf) < frames {
		p.buf = make([][2]float64, frames)
	}
	buf := p.buf[:frames]
	n, ok := (*src).Stream(buf)
	if !ok {
		n = 0
	}
	for i := n; i < frames; i++ {
		buf[i] = [2]float64{}
	}

	for i, s := range buf {
		binary.LittleEndian.PutUint32(b[i*8:], math.Float32bits(clamp(s[0])))
		binary.LittleEndian.PutUint32(b[i*8+4:], math.Float32bits(clamp(s[1])))
	}
	return frames * 8, nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src.Store(nil)
	if p.player == nil {
		return nil
	}
	err := p.player.Close()
	p.player = nil
	p.started = false
	return err
}

func clamp(v float64) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return float32(v)
}
