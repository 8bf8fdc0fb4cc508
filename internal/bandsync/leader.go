package bandsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemberStatus is the leader's view of one member.
type MemberStatus struct {
	ID      string    `json:"id"`
	Skew    float64   `json:"skew"`   // seconds, leader minus member
	StdDev  float64   `json:"stddev"` // seconds
	Quality Quality   `json:"quality"`
	RTT     float64   `json:"rtt"` // seconds, most recent
	Samples int       `json:"samples"`
	Joined  time.Time `json:"joined"`
}

type memberConn struct {
	id      string
	ch      Channel
	skew    *SkewEstimator
	pending map[float64]float64 // ping ts -> leader audio time at send
	rtt     float64
	joined  time.Time
}

// Leader hosts a sync session. Members attach through Accept; Run pings
// them until the context ends.
type Leader struct {
	clock  Clock
	cfg    Config
	id     string
	mono   func() float64
	events emitter

	mu        sync.Mutex
	members   map[string]*memberConn
	transport *Start
}

func NewLeader(clock Clock, cfg Config) *Leader {
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	return &Leader{
		clock:   clock,
		cfg:     cfg,
		id:      id,
		mono:    monotonicMs,
		events:  make(emitter, 32),
		members: make(map[string]*memberConn),
	}
}

// SessionID identifies this session to joining members.
func (l *Leader) SessionID() string {
	return l.id
}

// Events delivers Start and Stop for the leader's own scheduler, plus
// membership changes.
func (l *Leader) Events() <-chan Event {
	return l.events
}

// ConvertHostTimeToLocal is the identity: the leader's clock is the host
// clock.
func (l *Leader) ConvertHostTimeToLocal(host float64) float64 {
	return host
}

// Accept serves one member until its channel closes or ctx ends. A member
// joining while the transport runs is sent the current Start so it can
// fall in on the grid. The first ping goes out before it so the member
// has a clock reading to convert the start time with.
func (l *Leader) Accept(ctx context.Context, ch Channel) error {
	m := &memberConn{
		id:      uuid.NewString(),
		ch:      ch,
		skew:    NewSkewEstimator(l.cfg.SkewWindow, l.cfg.SkewAlpha),
		pending: make(map[float64]float64),
		joined:  time.Now(),
	}

	l.mu.Lock()
	l.members[m.id] = m
	transport := l.transport
	total := len(l.members)
	l.mu.Unlock()

	logger := log.WithField("member", m.id)
	logger.Infof("Member joined (total: %d)", total)
	l.events.emit(Event{Kind: EventPeerJoined, Peer: m.id})

	defer func() {
		l.mu.Lock()
		delete(l.members, m.id)
		total := len(l.members)
		l.mu.Unlock()
		logger.Infof("Member left (total: %d)", total)
		l.events.emit(Event{Kind: EventPeerLeft, Peer: m.id})
	}()

	l.ping(m)
	if transport != nil {
		if err := ch.Send(*transport); err != nil {
			return fmt.Errorf("%w: send start: %v", ErrPeerConnection, err)
		}
	}

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrPeerConnection, err)
		}
		l.handle(m, msg)
	}
}

// Run pings every member each interval. On return all member channels are
// closed.
func (l *Leader) Run(ctx context.Context) error {
	interval := l.cfg.PingInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("session", l.id).Info("Sync session hosting")
	for {
		select {
		case <-ctx.Done():
			l.closeAll()
			return nil
		case <-ticker.C:
			l.pingAll()
		}
	}
}

// StartTransport schedules a band-wide start a lead-in after the leader's
// current audio time and tells every member.
func (l *Leader) StartTransport(tempo int, signature string) Start {
	start := Start{
		StartAudioTime: l.clock.Now() + l.cfg.StartLeadIn.Seconds(),
		Tempo:          tempo,
		Signature:      signature,
	}
	l.mu.Lock()
	l.transport = &start
	l.mu.Unlock()

	log.WithFields(logrus.Fields{"tempo": tempo, "signature": signature}).
		Infof("Transport start at %.3fs", start.StartAudioTime)
	l.broadcast(start)
	l.events.emit(Event{Kind: EventStart, Start: start, LocalStartTime: start.StartAudioTime})
	return start
}

// StopTransport stops every member and the leader itself.
func (l *Leader) StopTransport() {
	l.mu.Lock()
	l.transport = nil
	l.mu.Unlock()

	log.Info("Transport stop")
	l.broadcast(Stop{})
	l.events.emit(Event{Kind: EventStop})
}

// Transport returns the running Start, if any.
func (l *Leader) Transport() (Start, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transport == nil {
		return Start{}, false
	}
	return *l.transport, true
}

// Members returns a snapshot of every connected member, oldest first.
func (l *Leader) Members() []MemberStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MemberStatus, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, MemberStatus{
			ID:      m.id,
			Skew:    m.skew.Estimate(),
			StdDev:  m.skew.StdDev(),
			Quality: m.skew.Quality(),
			RTT:     m.rtt,
			Samples: m.skew.Len(),
			Joined:  m.joined,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Joined.Before(out[j].Joined) })
	return out
}

func (l *Leader) handle(m *memberConn, msg Message) {
	switch v := msg.(type) {
	case Pong:
		l.handlePong(m, v)
	case Stop:
		log.WithField("member", m.id).Info("Member requested stop")
		l.StopTransport()
	default:
		log.WithField("member", m.id).Debugf("Ignoring %s from member", msg.Type())
	}
}

// handlePong turns a round trip into a skew sample. The member answered
// roughly half a round trip after the ping left, so its clock at send
// time was pong.AudioTime - rtt/2.
func (l *Leader) handlePong(m *memberConn, p Pong) {
	now := l.mono()

	l.mu.Lock()
	defer l.mu.Unlock()
	sentAt, ok := m.pending[p.TS]
	if !ok {
		return
	}
	delete(m.pending, p.TS)

	rtt := (now - p.TS) / 1000
	sample := sentAt - (p.AudioTime - rtt/2)
	m.rtt = rtt
	if !m.skew.Add(sample) {
		log.WithField("member", m.id).Debugf("Skew sample %.2fms rejected", sample*1000)
	}
}

func (l *Leader) pingAll() {
	l.mu.Lock()
	members := make([]*memberConn, 0, len(l.members))
	for _, m := range l.members {
		members = append(members, m)
	}
	l.mu.Unlock()

	for _, m := range members {
		l.ping(m)
	}
}

func (l *Leader) ping(m *memberConn) {
	l.mu.Lock()
	ts := l.mono()
	p := Ping{TS: ts, AudioTime: l.clock.Now()}
	m.pending[ts] = p.AudioTime

	// Pongs older than a few intervals are not coming back.
	expiry := ts - 5*float64(l.cfg.PingInterval/time.Millisecond)
	for k := range m.pending {
		if k < expiry {
			delete(m.pending, k)
		}
	}
	if m.skew.Len() > 0 {
		skew := m.skew.Estimate()
		p.Skew = &skew
		p.Quality = m.skew.Quality().String()
	}
	l.mu.Unlock()

	if err := m.ch.Send(p); err != nil {
		log.WithField("member", m.id).WithError(err).Debug("Ping failed")
	}
}

func (l *Leader) broadcast(msg Message) {
	l.mu.Lock()
	chans := make([]Channel, 0, len(l.members))
	for _, m := range l.members {
		chans = append(chans, m.ch)
	}
	l.mu.Unlock()

	for _, ch := range chans {
		if err := ch.Send(msg); err != nil {
			log.WithError(err).Warnf("Broadcast %s failed", msg.Type())
		}
	}
}

func (l *Leader) closeAll() {
	l.mu.Lock()
	chans := make([]Channel, 0, len(l.members))
	for _, m := range l.members {
		chans = append(chans, m.ch)
	}
	l.mu.Unlock()
	for _, ch := range chans {
		ch.Close()
	}
}
