// Package stream serves the click-track monitor to remote listeners.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "stream")

// DefaultBuffer holds about three seconds of 20ms frames per listener.
const DefaultBuffer = 150

// Broadcaster fans the monitor mix out to every connected listener.
type Broadcaster struct {
	buffer int
	frames atomic.Int64

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed or the source ends.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped counts frames skipped because the listener fell behind.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Listener) close() {
	l.once.Do(func() { close(l.done) })
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// frames. A non-positive buffer uses DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		buffer:    buffer,
		listeners: make(map[*Listener]struct{}),
	}
}

func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. It is safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.close()
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Frames returns how many frames have been fanned out so far.
func (b *Broadcaster) Frames() int64 {
	return b.frames.Load()
}

// Run reads frames from source and fans them out until ctx ends or source
// closes. A listener that is full misses the frame. When source closes,
// every listener is released.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				log.Info("Monitor source ended")
				b.releaseAll()
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
			b.frames.Add(1)
		}
	}
}

func (b *Broadcaster) releaseAll() {
	b.mu.Lock()
	ls := b.listeners
	b.listeners = make(map[*Listener]struct{})
	b.mu.Unlock()
	for l := range ls {
		l.close()
	}
}
