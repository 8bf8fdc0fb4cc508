package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/api"
	"github.com/accesstechnology-mike/drumclick/internal/band"
	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/peer"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	joinPort  int
	joinVoice bool
)

var joinCmd = &cobra.Command{
	Use:   "join <leader-url> <session-id>",
	Short: "Follow a leader's session",
	Long: `join connects to the leader at leader-url and plays whenever the leader
starts, aligned to the leader's downbeat. Stopping locally (POST /api/stop
when --port is set) stops the whole band.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := cfg.Rhythm()
		rc.UseVoice = joinVoice

		runCtx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, ctx := errgroup.WithContext(runCtx)
		e := newEngine(rc)
		e.run(ctx, g)
		e.logBeats(ctx, g)

		// Skew is measured against the audio clock, so it has to be running
		// before the first pong.
		if err := e.audio.EnsureRunning(ctx); err != nil {
			return abort(cancel, g, err)
		}

		dialer := &peer.Dialer{
			BaseURL:     args[0],
			ICEURLs:     cfg.STUNURLs,
			HTTP:        &http.Client{Timeout: 15 * time.Second},
			OpenTimeout: 10 * time.Second,
		}
		member := bandsync.NewMember(e.audio, dialer, args[1], cfg.Sync())
		g.Go(func() error {
			err := member.Run(ctx)
			if errors.Is(err, bandsync.ErrSessionNotFound) {
				return err
			}
			return nil
		})
		g.Go(func() error { return band.Follow(ctx, member.Events(), e.sched) })

		if joinPort > 0 {
			srv := &api.Server{
				Metronome: followerMetronome{e.sched},
				Transport: band.Joined{Member: member},
				Sync:      func() any { return member.State() },
			}
			serveHTTP(ctx, g, joinPort, srv.Handler())
		}
		return g.Wait()
	},
}

// followerMetronome lets a member adjust its own sound (voice, click,
// subdivision) while tempo and meter stay with the leader.
type followerMetronome struct {
	api.Metronome
}

func (f followerMetronome) Update(next rhythm.Config) {
	cur := f.Metronome.Config()
	next.Tempo = cur.Tempo
	next.Signature = cur.Signature
	next.Ramp = cur.Ramp
	f.Metronome.Update(next.Normalize())
}

func init() {
	joinCmd.Flags().IntVar(&joinPort, "port", 0, "serve the control API on this port (0 disables)")
	joinCmd.Flags().BoolVar(&joinVoice, "voice", cfg.Voice, "speak the count")
	rootCmd.AddCommand(joinCmd)
}
