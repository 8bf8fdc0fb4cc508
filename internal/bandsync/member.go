package bandsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// resyncTolerance is how far the first filtered skew may differ from the
// reading a start was placed with before the start is placed again.
const resyncTolerance = 0.002

// Dialer opens a channel to the leader of a session.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Channel, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, sessionID string) (Channel, error)

func (f DialFunc) Dial(ctx context.Context, sessionID string) (Channel, error) {
	return f(ctx, sessionID)
}

// MemberState is a snapshot of a member's view of the session.
type MemberState struct {
	SessionID string  `json:"session_id"`
	Status    Status  `json:"status"`
	Skew      float64 `json:"skew"`
	Quality   Quality `json:"quality"`
	Attempts  int     `json:"attempts"`
	LastError string  `json:"last_error,omitempty"`
}

// Member follows a leader's session, answering pings and translating
// transport commands to the local clock.
type Member struct {
	clock           Clock
	dialer          Dialer
	session         string
	backoff         *Backoff
	notFoundRetries int
	events          emitter
	sleep           func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	status  Status
	skew    float64
	quality Quality
	hasSkew bool // skew is the leader's filtered estimate
	reading bool // at least one ping seen on this connection
	ch      Channel
	lastErr error

	held      *Start  // arrived before any clock reading
	playing   *Start  // last start handed to the scheduler
	startSkew float64 // skew that start was converted with
}

func NewMember(clock Clock, dialer Dialer, sessionID string, cfg Config) *Member {
	return &Member{
		clock:           clock,
		dialer:          dialer,
		session:         sessionID,
		backoff:         NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffJitter),
		notFoundRetries: max(cfg.NotFoundRetries, 0),
		events:          make(emitter, 32),
		sleep:           sleepCtx,
	}
}

// Events delivers Start (with the local start time), Stop and status
// changes.
func (m *Member) Events() <-chan Event {
	return m.events
}

// Run joins the session and keeps rejoining with backoff until ctx ends.
// A session that stays unknown for more than the configured number of
// attempts ends Run with ErrSessionNotFound.
func (m *Member) Run(ctx context.Context) error {
	defer m.setStatus(StatusIdle, nil)

	notFound := 0
	for {
		m.setStatus(StatusConnecting, nil)
		ch, err := m.dialer.Dial(ctx, m.session)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.setStatus(StatusError, err)
			if errors.Is(err, ErrSessionNotFound) {
				notFound++
				if notFound > m.notFoundRetries {
					log.WithField("session", m.session).Error("Session not found, giving up")
					return err
				}
			} else {
				notFound = 0
			}
			if !m.retry(ctx, err) {
				return nil
			}
			continue
		}

		notFound = 0
		m.backoff.Reset()
		m.attach(ch)
		log.WithField("session", m.session).Info("Joined sync session")

		err = m.serve(ctx, ch)
		m.detach()
		ch.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.setStatus(StatusError, err)
		if !m.retry(ctx, err) {
			return nil
		}
	}
}

func (m *Member) retry(ctx context.Context, cause error) bool {
	d := m.backoff.Next()
	log.WithError(cause).Warnf("Sync connection lost, retrying in %s (attempt %d)", d.Round(time.Millisecond), m.backoff.Attempt())
	return m.sleep(ctx, d) == nil
}

func (m *Member) serve(ctx context.Context, ch Channel) error {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrPeerConnection, err)
		}

		switch v := msg.(type) {
		case Ping:
			if err := ch.Send(Pong{TS: v.TS, AudioTime: m.clock.Now()}); err != nil {
				return fmt.Errorf("%w: send pong: %v", ErrPeerConnection, err)
			}
			if start, ok := m.observePing(v); ok {
				m.emitStart(start)
			}
		case Start:
			m.handleStart(v)
		case Stop:
			m.mu.Lock()
			m.held, m.playing = nil, nil
			m.mu.Unlock()
			log.Info("Leader stop")
			m.events.emit(Event{Kind: EventStop})
		default:
			log.Debugf("Ignoring %s from leader", msg.Type())
		}
	}
}

// observePing records the leader's estimate. Until one arrives, the
// one-way reading leader-minus-local is used as a rough stand-in.
//
// It returns a start to hand to the scheduler: one held back for want of
// any reading, or the running one when the first filtered estimate moves
// its downbeat by more than resyncTolerance.
func (m *Member) observePing(p Ping) (Start, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	refined := false
	switch {
	case p.Skew != nil:
		refined = !m.hasSkew
		m.skew = *p.Skew
		m.quality = ParseQuality(p.Quality)
		m.hasSkew = true
	case !m.hasSkew:
		m.skew = p.AudioTime - m.clock.Now()
		m.quality = QualityPoor
	}
	m.reading = true

	if m.held != nil {
		start := *m.held
		m.held = nil
		return start, true
	}
	if refined && m.playing != nil && math.Abs(m.skew-m.startSkew) > resyncTolerance {
		log.Debugf("Skew settled %.2fms away, placing start again", (m.skew-m.startSkew)*1000)
		return *m.playing, true
	}
	return Start{}, false
}

// handleStart places a leader start on the local clock, or holds it until
// this connection has seen a ping.
func (m *Member) handleStart(s Start) {
	m.mu.Lock()
	if !m.reading {
		m.held = &s
		m.mu.Unlock()
		log.Debug("Holding start until the first clock reading")
		return
	}
	m.mu.Unlock()
	m.emitStart(s)
}

func (m *Member) emitStart(s Start) {
	m.mu.Lock()
	local := s.StartAudioTime - m.skew
	m.playing = &s
	m.startSkew = m.skew
	m.mu.Unlock()

	log.Infof("Leader start: %d BPM %s at %.3fs local", s.Tempo, s.Signature, local)
	m.events.emit(Event{Kind: EventStart, Start: s, LocalStartTime: local})
}

// ConvertHostTimeToLocal maps a leader audio time to the local clock.
func (m *Member) ConvertHostTimeToLocal(host float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return host - m.skew
}

// StopTransport asks the leader to stop the whole band.
func (m *Member) StopTransport() error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Send(Stop{}); err != nil {
		return fmt.Errorf("%w: send stop: %v", ErrPeerConnection, err)
	}
	return nil
}

func (m *Member) State() MemberState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MemberState{
		SessionID: m.session,
		Status:    m.status,
		Skew:      m.skew,
		Quality:   m.quality,
		Attempts:  m.backoff.Attempt(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Member) attach(ch Channel) {
	m.mu.Lock()
	m.ch = ch
	m.status = StatusConnected
	m.lastErr = nil
	m.mu.Unlock()
	m.events.emit(Event{Kind: EventStatus, Status: StatusConnected})
}

// detach forgets everything learned on the connection. The next leader
// may be a restarted process with a different clock.
func (m *Member) detach() {
	m.mu.Lock()
	m.ch = nil
	m.hasSkew = false
	m.reading = false
	m.held, m.playing = nil, nil
	m.mu.Unlock()
}

func (m *Member) setStatus(s Status, err error) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
	if changed {
		m.events.emit(Event{Kind: EventStatus, Status: s})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
