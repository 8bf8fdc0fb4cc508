// Package bandsync keeps band members' audio clocks aligned with a leader.
//
// The leader pings every member once per interval. From each pong it
// derives a skew sample (leader time minus member time), filters it, and
// sends the estimate back on the next ping. Members translate the leader's
// start times into their own clock with ConvertHostTimeToLocal.
package bandsync

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "bandsync")

var (
	// ErrPeerConnection covers any transport failure; members retry it.
	ErrPeerConnection = errors.New("peer connection error")
	// ErrSessionNotFound means the leader does not know the session id.
	// Members retry it a few times in case the leader is restarting.
	ErrSessionNotFound = errors.New("session not found")
	ErrClosed          = errors.New("sync channel closed")
	ErrNotConnected    = errors.New("not connected to a leader")
)

// Clock is the local audio clock in seconds.
type Clock interface {
	Now() float64
}

// Config holds protocol timing.
type Config struct {
	// SessionID is the id a leader hosts under. Empty mints a fresh one;
	// a fixed id lets members rejoin after the leader restarts.
	SessionID     string
	PingInterval  time.Duration
	SkewWindow    int
	SkewAlpha     float64
	StartLeadIn   time.Duration // how far ahead of the leader clock Start is scheduled
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	// NotFoundRetries is how many consecutive unknown-session answers a
	// member tolerates before giving up.
	NotFoundRetries int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:  time.Second,
		SkewWindow:    8,
		SkewAlpha:     0.2,
		StartLeadIn:   500 * time.Millisecond,
		BackoffBase:   2 * time.Second,
		BackoffMax:    30 * time.Second,
		BackoffJitter: 0.3,

		NotFoundRetries: 3,
	}
}

// Status is the member's connection state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "idle"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies a session Event.
type EventKind int

const (
	// EventStart asks the local scheduler to start at LocalStartTime.
	EventStart EventKind = iota
	EventStop
	EventStatus
	EventPeerJoined
	EventPeerLeft
)

// Event is delivered on a Leader's or Member's Events channel.
type Event struct {
	Kind           EventKind
	Start          Start
	LocalStartTime float64
	Status         Status
	Peer           string
}

type emitter chan Event

func (e emitter) emit(ev Event) {
	select {
	case e <- ev:
	default:
		log.WithField("kind", ev.Kind).Warn("Sync event dropped, consumer is slow")
	}
}

var epoch = time.Now()

// monotonicMs is the ping timestamp source. It only needs to be consistent
// within this process, since the pong echoes it back.
func monotonicMs() float64 {
	return float64(time.Since(epoch)) / float64(time.Millisecond)
}
