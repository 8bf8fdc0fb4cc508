// Package band connects a sync session to the local scheduler.
package band

import (
	"context"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "band")

// Player is the part of the scheduler a session drives.
type Player interface {
	Config() rhythm.Config
	Update(cfg rhythm.Config)
	StartAt(ctx context.Context, at float64) error
	Stop()
}

// Follow applies session events to p until ctx ends or events closes.
// Start events carry times already converted to the local clock.
func Follow(ctx context.Context, events <-chan bandsync.Event, p Player) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			apply(ctx, ev, p)
		}
	}
}

func apply(ctx context.Context, ev bandsync.Event, p Player) {
	switch ev.Kind {
	case bandsync.EventStart:
		cfg := p.Config()
		cfg.Tempo = ev.Start.Tempo
		if sig, err := rhythm.ParseTimeSignature(ev.Start.Signature); err == nil {
			cfg.Signature = sig
		} else {
			log.WithError(err).Warnf("Keeping %s, leader sent %q", cfg.Signature, ev.Start.Signature)
		}
		p.Update(cfg.Normalize())
		if err := p.StartAt(ctx, ev.LocalStartTime); err != nil {
			log.WithError(err).Error("Band start failed")
		}
	case bandsync.EventStop:
		p.Stop()
	case bandsync.EventStatus:
		log.Infof("Sync status: %s", ev.Status)
	case bandsync.EventPeerJoined, bandsync.EventPeerLeft:
		log.WithField("peer", ev.Peer).Debug("Membership changed")
	}
}
