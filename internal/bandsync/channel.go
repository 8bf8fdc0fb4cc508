package bandsync

import (
	"context"
	"sync"
)

// Channel is an ordered, reliable, message-oriented link to one peer.
type Channel interface {
	Send(m Message) error
	// Receive blocks for the next message. It returns ErrClosed once the
	// channel is closed from either side.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Pipe returns two in-memory channels connected to each other.
func Pipe() (Channel, Channel) {
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeEnd{in: make(chan Message, 64), state: shared}
	b := &pipeEnd{in: make(chan Message, 64), state: shared}
	a.peer, b.peer = b, a
	return a, b
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	in    chan Message
	peer  *pipeEnd
	state *pipeState
}

func (p *pipeEnd) Send(m Message) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.in <- m:
		return nil
	case <-p.state.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	default:
	}
	select {
	case m := <-p.in:
		return m, nil
	case <-p.state.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
