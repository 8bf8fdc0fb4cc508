package metronome

import "sync"

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventActiveBeat carries the beat index of the most recent main beat,
	// or -1 when playback stops. It is throttled to roughly 60 per second.
	EventActiveBeat EventKind = iota
	// EventTempo reports a new tempo while a ramp is running.
	EventTempo
	EventStarted
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventActiveBeat:
		return "beat"
	case EventTempo:
		return "tempo"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	}
	return "unknown"
}

// Event is sent to every subscriber.
type Event struct {
	Kind EventKind
	Beat int
	BPM  int
	At   float64 // audio time the beat sounds at
}

// subscribers fans events out to listeners. Slow listeners miss events
// rather than stalling the scheduling loop.
type subscribers struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (s *subscribers) add(buffer int) chan Event {
	ch := make(chan Event, buffer)
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[chan Event]struct{})
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *subscribers) remove(ch chan Event) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
