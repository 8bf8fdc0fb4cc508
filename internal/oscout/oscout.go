// Package oscout mirrors scheduler beats and tempo changes as OSC
// messages, so lighting rigs or DAWs can follow the click.
package oscout

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/metronome"
	"github.com/scgolang/osc"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "oscout")

const (
	AddressBeat  = "/drumclick/beat"
	AddressTempo = "/drumclick/tempo"
)

// Sender delivers one OSC packet.
type Sender interface {
	Send(p osc.Packet) error
}

// Dial connects a UDP sender to target ("host:port").
func Dial(target string) (*osc.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve osc target: %w", err)
	}
	conn, err := osc.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial osc target: %w", err)
	}
	return conn, nil
}

// Message maps a scheduler event to its OSC form. Start and stop have no
// OSC form; stop is already reported as beat -1.
func Message(ev metronome.Event) (osc.Message, bool) {
	switch ev.Kind {
	case metronome.EventActiveBeat:
		return osc.Message{
			Address:   AddressBeat,
			Arguments: osc.Arguments{osc.Int(int32(ev.Beat))},
		}, true
	case metronome.EventTempo:
		return osc.Message{
			Address:   AddressTempo,
			Arguments: osc.Arguments{osc.Float(float32(ev.BPM))},
		}, true
	}
	return osc.Message{}, false
}

// Clock is the audio clock that event times are measured on.
type Clock interface {
	Now() float64
}

// Run forwards events to s until ctx ends or events closes. Beats and
// tempo changes are held until clock reaches the time they sound at; with
// a nil clock they go out when scheduled, up to the scheduler's lookahead
// early. Stop (beat -1) is sent at once and drops any held beats.
func Run(ctx context.Context, events <-chan metronome.Event, s Sender, clock Clock) error {
	f := forwarder{s: s}
	var held []metronome.Event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, ok := Message(ev); !ok {
				continue
			}
			if ev.Kind == metronome.EventActiveBeat && ev.Beat < 0 {
				held = held[:0]
			}
			if clock == nil || ev.At <= 0 {
				f.send(ev)
				continue
			}
			held = append(held, ev)
		case <-timer.C:
		}

		if len(held) == 0 {
			continue
		}
		now := clock.Now()
		for len(held) > 0 && held[0].At <= now {
			f.send(held[0])
			held = held[1:]
		}
		if len(held) > 0 {
			timer.Reset(time.Duration((held[0].At - now) * float64(time.Second)))
		}
	}
}

type forwarder struct {
	s        Sender
	failures int
}

// send logs the first failure and every hundredth after it; UDP has no
// one to retry for.
func (f *forwarder) send(ev metronome.Event) {
	msg, _ := Message(ev)
	if err := f.s.Send(msg); err != nil {
		f.failures++
		if f.failures == 1 || f.failures%100 == 0 {
			log.WithError(err).Warnf("OSC send failed (%d so far)", f.failures)
		}
	}
}
