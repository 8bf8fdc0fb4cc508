package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
)

// Pipeline is the headless backend: it pulls 20ms frames from the mixer at
// real-time rate and publishes them as interleaved int16 PCM. The mixer
// clock therefore advances exactly as fast as the pipeline renders.
type Pipeline struct {
	frameCh chan []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	rendered atomic.Uint64
	dropped  atomic.Uint64
}

// NewPipeline creates an idle pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		frameCh: make(chan []int16, 100),
	}
}

// Factory returns a BackendFactory that hands out this pipeline.
func (p *Pipeline) Factory() BackendFactory {
	return func(sr beep.SampleRate) (Backend, error) {
		if int(sr) != SampleRate {
			return nil, fmt.Errorf("pipeline renders at %d Hz, not %d", SampleRate, int(sr))
		}
		return p, nil
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each). It is
// closed when the pipeline stops.
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Start begins rendering src on a background goroutine.
func (p *Pipeline) Start(src beep.Streamer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	go p.run(ctx, src)
	return nil
}

// Close stops rendering and closes Frames.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Status returns how many frames were rendered and how many were dropped
// because nobody was reading.
func (p *Pipeline) Status() (rendered, dropped uint64) {
	return p.rendered.Load(), p.dropped.Load()
}

func (p *Pipeline) run(ctx context.Context, src beep.Streamer) {
	defer close(p.done)
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.sendFrame(RenderFrame(src, buf))
	}
}

// sendFrame never blocks: a stalled consumer must not stall the clock.
func (p *Pipeline) sendFrame(frame []int16) {
	p.rendered.Add(1)
	select {
	case p.frameCh <- frame:
	default:
		if p.dropped.Add(1)%500 == 1 {
			log.Warnf("Pipeline consumer is slow, dropped %d frames", p.dropped.Load())
		}
	}
}

// RenderFrame pulls one frame from src and converts it to PCM.
func RenderFrame(src beep.Streamer, buf [][2]float64) []int16 {
	n, ok := src.Stream(buf)
	if !ok {
		n = 0
	}
	for i := n; i < len(buf); i++ {
		buf[i] = [2]float64{}
	}
	return ToInt16(nil, buf)
}
