package band

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

type fakePlayer struct {
	mu       sync.Mutex
	cfg      rhythm.Config
	startAt  []float64
	stops    int
	startErr error
}

func (p *fakePlayer) Config() rhythm.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *fakePlayer) Update(cfg rhythm.Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *fakePlayer) StartAt(ctx context.Context, at float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startAt = append(p.startAt, at)
	return p.startErr
}

func (p *fakePlayer) Start(ctx context.Context) error {
	return p.StartAt(ctx, -1)
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func run(t *testing.T, p *fakePlayer, evs ...bandsync.Event) {
	t.Helper()
	ch := make(chan bandsync.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)

	done := make(chan error, 1)
	go func() { done <- Follow(context.Background(), ch, p) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after events closed")
	}
}

func TestFollowStartAppliesTempoAndSignature(t *testing.T) {
	p := &fakePlayer{cfg: rhythm.DefaultConfig()}
	p.cfg.Subdivision = rhythm.SubdivisionQuarter

	run(t, p, bandsync.Event{
		Kind:           bandsync.EventStart,
		Start:          bandsync.Start{StartAudioTime: 20, Tempo: 96, Signature: "6/8 (Compound)"},
		LocalStartTime: 19.95,
	})

	if p.cfg.Tempo != 96 || p.cfg.Signature != rhythm.Compound {
		t.Errorf("config = %+v", p.cfg)
	}
	if p.cfg.Subdivision != rhythm.SubdivisionTriplet {
		t.Errorf("subdivision = %v, want triplet after compound normalize", p.cfg.Subdivision)
	}
	if len(p.startAt) != 1 || p.startAt[0] != 19.95 {
		t.Errorf("StartAt calls = %v, want [19.95]", p.startAt)
	}
}

func TestFollowKeepsSignatureOnGarbage(t *testing.T) {
	p := &fakePlayer{cfg: rhythm.DefaultConfig()}
	run(t, p, bandsync.Event{
		Kind:  bandsync.EventStart,
		Start: bandsync.Start{Tempo: 500, Signature: "banana"},
	})
	if p.cfg.Signature != rhythm.Common {
		t.Errorf("signature = %v, want 4/4", p.cfg.Signature)
	}
	if p.cfg.Tempo != rhythm.MaxTempo {
		t.Errorf("tempo = %d, want clamped %d", p.cfg.Tempo, rhythm.MaxTempo)
	}
}

func TestFollowStopAndIgnoredEvents(t *testing.T) {
	p := &fakePlayer{cfg: rhythm.DefaultConfig(), startErr: errors.New("no audio")}
	run(t, p,
		bandsync.Event{Kind: bandsync.EventStatus, Status: bandsync.StatusConnected},
		bandsync.Event{Kind: bandsync.EventPeerJoined, Peer: "x"},
		bandsync.Event{Kind: bandsync.EventStart, Start: bandsync.Start{Tempo: 120, Signature: "4/4"}},
		bandsync.Event{Kind: bandsync.EventStop},
	)
	if p.stops != 1 {
		t.Errorf("stops = %d, want 1", p.stops)
	}
	if len(p.startAt) != 1 {
		t.Errorf("start attempts = %d, want 1", len(p.startAt))
	}
}

func TestFollowReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Follow(ctx, make(chan bandsync.Event), &fakePlayer{}); err != nil {
		t.Errorf("Follow = %v", err)
	}
}

type offsetClock struct{ now float64 }

func (c offsetClock) Now() float64 { return c.now }

func TestHostedStartDrivesLeaderScheduler(t *testing.T) {
	cfg := bandsync.DefaultConfig()
	leader := bandsync.NewLeader(offsetClock{now: 10}, cfg)
	p := &fakePlayer{cfg: rhythm.DefaultConfig()}
	p.cfg.Tempo = 132
	p.cfg.Signature = rhythm.TimeSignature{Beats: 3, Unit: 4}

	tr := Hosted{Leader: leader, Config: p.Config}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Follow(ctx, leader.Events(), p)

	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		n := len(p.startAt)
		p.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("leader start never reached the scheduler")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if want := 10 + cfg.StartLeadIn.Seconds(); p.startAt[0] != want {
		t.Errorf("start at %v, want %v", p.startAt[0], want)
	}
	if p.cfg.Tempo != 132 || p.cfg.Signature.Beats != 3 {
		t.Errorf("config = %+v", p.cfg)
	}
}

type fakeMember struct{ err error }

func (m fakeMember) StopTransport() error { return m.err }

func TestTransports(t *testing.T) {
	p := &fakePlayer{}
	solo := Solo{Scheduler: p}
	if err := solo.Start(context.Background()); err != nil {
		t.Errorf("solo start: %v", err)
	}
	solo.Stop()
	if len(p.startAt) != 1 || p.stops != 1 {
		t.Errorf("solo calls: starts %d stops %d", len(p.startAt), p.stops)
	}

	j := Joined{Member: fakeMember{err: bandsync.ErrNotConnected}}
	if err := j.Start(context.Background()); !errors.Is(err, ErrMemberStart) {
		t.Errorf("member start err = %v", err)
	}
	if err := j.Stop(); !errors.Is(err, bandsync.ErrNotConnected) {
		t.Errorf("member stop err = %v", err)
	}
}

type fakeLeader struct {
	running bool
	starts  []bandsync.Start
}

func (l *fakeLeader) StartTransport(tempo int, signature string) bandsync.Start {
	s := bandsync.Start{Tempo: tempo, Signature: signature}
	l.starts = append(l.starts, s)
	l.running = true
	return s
}

func (l *fakeLeader) StopTransport() { l.running = false }

func (l *fakeLeader) Transport() (bandsync.Start, bool) {
	if !l.running {
		return bandsync.Start{}, false
	}
	return l.starts[len(l.starts)-1], true
}

func TestHostedRejectsRamp(t *testing.T) {
	cfg := rhythm.DefaultConfig()
	cfg.Ramp = &rhythm.Ramp{StartBPM: 100, EndBPM: 140, Duration: 2}
	l := &fakeLeader{}
	tr := Hosted{Leader: l, Config: func() rhythm.Config { return cfg }}

	if err := tr.Start(context.Background()); !errors.Is(err, ErrHostedRamp) {
		t.Errorf("Start = %v, want ErrHostedRamp", err)
	}
	if len(l.starts) != 0 {
		t.Error("band started with a ramp")
	}
	if err := tr.CheckConfig(rhythm.DefaultConfig()); err != nil {
		t.Errorf("CheckConfig(no ramp) = %v", err)
	}
}

func TestHostedRetime(t *testing.T) {
	l := &fakeLeader{}
	tr := Hosted{Leader: l}
	prev := rhythm.DefaultConfig()

	faster := prev
	faster.Tempo = 140
	tr.Retime(prev, faster)
	if len(l.starts) != 0 {
		t.Fatal("stopped band was started by a config change")
	}

	l.StartTransport(prev.Tempo, prev.Signature.String())
	tr.Retime(prev, faster)
	waltz := faster
	waltz.Signature = rhythm.TimeSignature{Beats: 3, Unit: 4}
	tr.Retime(faster, waltz)
	swung := waltz
	swung.Swing = true
	tr.Retime(waltz, swung)

	want := []bandsync.Start{
		{Tempo: 120, Signature: "4/4"},
		{Tempo: 140, Signature: "4/4"},
		{Tempo: 140, Signature: "3/4"},
	}
	if len(l.starts) != len(want) {
		t.Fatalf("starts = %+v, want %+v", l.starts, want)
	}
	for i := range want {
		if l.starts[i] != want[i] {
			t.Errorf("start %d = %+v, want %+v", i, l.starts[i], want[i])
		}
	}
}
