package oscout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/metronome"
	"github.com/scgolang/osc"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		ev   metronome.Event
		addr string
		arg  osc.Argument
		ok   bool
	}{
		{metronome.Event{Kind: metronome.EventActiveBeat, Beat: 2}, AddressBeat, osc.Int(2), true},
		{metronome.Event{Kind: metronome.EventActiveBeat, Beat: -1}, AddressBeat, osc.Int(-1), true},
		{metronome.Event{Kind: metronome.EventTempo, BPM: 132}, AddressTempo, osc.Float(132), true},
		{metronome.Event{Kind: metronome.EventStarted}, "", nil, false},
		{metronome.Event{Kind: metronome.EventStopped}, "", nil, false},
	}
	for _, tt := range tests {
		msg, ok := Message(tt.ev)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.ev.Kind, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if msg.Address != tt.addr {
			t.Errorf("%s: address = %q, want %q", tt.ev.Kind, msg.Address, tt.addr)
		}
		if len(msg.Arguments) != 1 || msg.Arguments[0] != tt.arg {
			t.Errorf("%s: arguments = %v, want [%v]", tt.ev.Kind, msg.Arguments, tt.arg)
		}
	}
}

type recordSender struct {
	mu   sync.Mutex
	sent []osc.Message
	err  error
}

func (r *recordSender) Send(p osc.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := p.(osc.Message); ok {
		r.sent = append(r.sent, m)
	}
	return r.err
}

func (r *recordSender) messages() []osc.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]osc.Message(nil), r.sent...)
}

func TestRunForwardsUntilClosed(t *testing.T) {
	events := make(chan metronome.Event, 4)
	events <- metronome.Event{Kind: metronome.EventStarted}
	events <- metronome.Event{Kind: metronome.EventActiveBeat, Beat: 0}
	events <- metronome.Event{Kind: metronome.EventTempo, BPM: 100}
	events <- metronome.Event{Kind: metronome.EventActiveBeat, Beat: -1}
	close(events)

	s := &recordSender{err: errors.New("no listener")}
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), events, s, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	want := []string{AddressBeat, AddressTempo, AddressBeat}
	sent := s.messages()
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(want))
	}
	for i, m := range sent {
		if m.Address != want[i] {
			t.Errorf("message %d address = %s, want %s", i, m.Address, want[i])
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, make(chan metronome.Event), &recordSender{}, nil); err != nil {
		t.Errorf("Run = %v", err)
	}
}

type manualClock struct {
	mu  sync.Mutex
	now float64
}

func (c *manualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestRunHoldsBeatsUntilTheySound(t *testing.T) {
	clock := &manualClock{now: 0.9}
	events := make(chan metronome.Event, 4)
	s := &recordSender{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, events, s, clock) }()
	defer func() {
		cancel()
		<-done
	}()

	events <- metronome.Event{Kind: metronome.EventActiveBeat, Beat: 0, At: 1.0}
	events <- metronome.Event{Kind: metronome.EventActiveBeat, Beat: 1, At: 1.5}
	time.Sleep(30 * time.Millisecond)
	if n := len(s.messages()); n != 0 {
		t.Fatalf("sent %d messages before the beat sounded", n)
	}

	clock.set(1.2)
	deadline := time.Now().Add(time.Second)
	for len(s.messages()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("beat 0 never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events <- metronome.Event{Kind: metronome.EventActiveBeat, Beat: -1}
	deadline = time.Now().Add(time.Second)
	for len(s.messages()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("stop never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	clock.set(2)
	time.Sleep(30 * time.Millisecond)
	got := s.messages()
	if len(got) != 2 {
		t.Fatalf("sent %v, want beat 0 then stop only", got)
	}
	if got[0].Arguments[0] != osc.Int(0) || got[1].Arguments[0] != osc.Int(-1) {
		t.Errorf("sent %v, want beats 0 and -1", got)
	}
}

func TestDialBadTarget(t *testing.T) {
	if _, err := Dial("not a host:port:x"); err == nil {
		t.Error("Dial accepted malformed target")
	}
}
