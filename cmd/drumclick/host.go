package main

import (
	"context"
	"fmt"

	"github.com/accesstechnology-mike/drumclick/internal/api"
	"github.com/accesstechnology-mike/drumclick/internal/band"
	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/accesstechnology-mike/drumclick/internal/peer"
	"github.com/accesstechnology-mike/drumclick/internal/preset"
	"github.com/accesstechnology-mike/drumclick/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var hostRhythm rhythmFlags

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Lead a band session and serve the control API",
	Long: `host leads a sync session. Members join with "drumclick join" using the
printed session id; starting the transport starts every member on the same
downbeat. With --output headless the click is also served as a monitor
stream on /monitor/offer (WebRTC) and /monitor/stream (MP3).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := hostRhythm.config()
		if err != nil {
			return err
		}
		if err := (band.Hosted{}).CheckConfig(rc); err != nil {
			return fmt.Errorf("host: %w", err)
		}
		store, err := preset.Open(cfg.PresetFile)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, ctx := errgroup.WithContext(runCtx)
		e := newEngine(rc)
		monitor := e.run(ctx, g)
		e.logBeats(ctx, g)
		if err := e.audio.EnsureRunning(ctx); err != nil {
			return abort(cancel, g, err)
		}

		leader := bandsync.NewLeader(e.audio, cfg.Sync())
		g.Go(func() error { return leader.Run(ctx) })
		g.Go(func() error { return band.Follow(ctx, leader.Events(), e.sched) })

		signaling := peer.NewHandler(ctx, leader, cfg.STUNURLs)
		srv := &api.Server{
			Metronome: e.sched,
			Transport: band.Hosted{Leader: leader, Config: e.sched.Config},
			Presets:   store,
			Signaling: signaling,
			Sync: func() any {
				return map[string]any{
					"role":       "leader",
					"session_id": leader.SessionID(),
					"members":    leader.Members(),
				}
			},
		}
		if monitor != nil {
			opus := stream.NewOpusHandler(monitor, cfg.MonitorBitrate, cfg.STUNURLs)
			srv.MonitorOffer = opus
			srv.MonitorStream = stream.NewMP3Handler(monitor, cfg.MonitorBitrate)
			srv.Listeners = func() int { return monitor.ListenerCount() }
		}
		serveHTTP(ctx, g, cfg.Port, srv.Handler())

		fmt.Printf("Session %s\nJoin with: drumclick join http://<this-host>:%d %s\n", leader.SessionID(), cfg.Port, leader.SessionID())
		return g.Wait()
	},
}

func init() {
	hostRhythm.register(hostCmd)
	hostCmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the API and signaling")
	hostCmd.Flags().StringVar(&cfg.PresetFile, "presets", cfg.PresetFile, "preset playlist file")
	hostCmd.Flags().StringVar(&cfg.SessionID, "session", cfg.SessionID, "fixed session id, so members can rejoin after a restart")
	rootCmd.AddCommand(hostCmd)
}
