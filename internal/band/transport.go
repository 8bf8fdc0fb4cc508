package band

import (
	"context"
	"errors"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

var (
	// ErrMemberStart is returned when a member tries to start the band.
	// Only the leader sets the shared downbeat.
	ErrMemberStart = errors.New("only the leader can start the band")
	// ErrHostedRamp is returned for a tempo ramp while hosting. A Start
	// carries one tempo, so members could not follow it.
	ErrHostedRamp = errors.New("tempo ramps cannot be shared with the band")
)

// Transport starts and stops playback on behalf of the API.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
}

// Retimer is implemented by transports that must hear about rhythm changes
// made while they run.
type Retimer interface {
	// CheckConfig rejects a config the transport cannot carry.
	CheckConfig(next rhythm.Config) error
	// Retime is called after next has been applied locally.
	Retime(prev, next rhythm.Config)
}

// Scheduler is what Solo needs from the metronome.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// Solo plays on this device only.
type Solo struct {
	Scheduler Scheduler
}

func (s Solo) Start(ctx context.Context) error {
	return s.Scheduler.Start(ctx)
}

func (s Solo) Stop() error {
	s.Scheduler.Stop()
	return nil
}

// Leader is the host side of a session.
type Leader interface {
	StartTransport(tempo int, signature string) bandsync.Start
	StopTransport()
	Transport() (bandsync.Start, bool)
}

// Hosted starts the whole band through the session leader. The leader's
// own scheduler starts from the session's Start event, like every member.
type Hosted struct {
	Leader Leader
	Config func() rhythm.Config
}

func (h Hosted) Start(ctx context.Context) error {
	cfg := h.Config()
	if err := h.CheckConfig(cfg); err != nil {
		return err
	}
	h.Leader.StartTransport(cfg.Tempo, cfg.Signature.String())
	return nil
}

func (Hosted) CheckConfig(next rhythm.Config) error {
	if next.Ramp != nil {
		return ErrHostedRamp
	}
	return nil
}

// Retime restarts a running band on a new grid when tempo or meter change,
// so members move with the leader instead of drifting.
func (h Hosted) Retime(prev, next rhythm.Config) {
	if prev.Tempo == next.Tempo && prev.Signature == next.Signature {
		return
	}
	if _, running := h.Leader.Transport(); !running {
		return
	}
	log.Infof("Retiming band: %d BPM %s", next.Tempo, next.Signature)
	h.Leader.StartTransport(next.Tempo, next.Signature.String())
}

func (h Hosted) Stop() error {
	h.Leader.StopTransport()
	return nil
}

// Member is the joining side of a session.
type Member interface {
	StopTransport() error
}

// Joined may stop the band but not start it.
type Joined struct {
	Member Member
}

func (Joined) Start(context.Context) error {
	return ErrMemberStart
}

func (j Joined) Stop() error {
	return j.Member.StopTransport()
}
