package main

import (
	"context"
	"fmt"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// rhythmFlags are shared by play, host and presets save.
type rhythmFlags struct {
	tempo       int
	signature   string
	subdivision string
	swing       bool
	voice       bool
	voiceSub    bool
	noClick     bool
	noAccent    bool
	rampTo      int
	rampMinutes float64
}

func (f *rhythmFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVarP(&f.tempo, "tempo", "t", cfg.Tempo, "tempo in BPM (40-300)")
	flags.StringVarP(&f.signature, "signature", "s", cfg.Signature, `time signature, e.g. "7/8" or "6/8 (Compound)"`)
	flags.StringVar(&f.subdivision, "subdivision", "1", "subdivision: 1, 1/2, 1/3 or 1/4")
	flags.BoolVar(&f.swing, "swing", false, "skip the middle triplet")
	flags.BoolVar(&f.voice, "voice", cfg.Voice, "speak the count")
	flags.BoolVar(&f.voiceSub, "voice-subdivision", false, `speak subdivisions ("and", "eee", "ah")`)
	flags.BoolVar(&f.noClick, "no-click", false, "disable the click")
	flags.BoolVar(&f.noAccent, "no-accent", false, "do not accent the first beat")
	flags.IntVar(&f.rampTo, "ramp-to", 0, "ramp the tempo to this BPM")
	flags.Float64Var(&f.rampMinutes, "ramp-minutes", 5, "ramp length in minutes")
}

func (f *rhythmFlags) config() (rhythm.Config, error) {
	if f.tempo < rhythm.MinTempo || f.tempo > rhythm.MaxTempo {
		return rhythm.Config{}, fmt.Errorf("tempo %d outside %d-%d", f.tempo, rhythm.MinTempo, rhythm.MaxTempo)
	}
	sig, err := rhythm.ParseTimeSignature(f.signature)
	if err != nil {
		return rhythm.Config{}, err
	}
	sub, err := rhythm.ParseSubdivision(f.subdivision)
	if err != nil {
		return rhythm.Config{}, err
	}
	rc := rhythm.Config{
		Signature:        sig,
		Tempo:            f.tempo,
		AccentFirstBeat:  !f.noAccent,
		Subdivision:      sub,
		VoiceSubdivision: f.voiceSub,
		Swing:            f.swing,
		UseClick:         !f.noClick,
		UseVoice:         f.voice,
	}
	if f.rampTo != 0 {
		if f.rampTo < rhythm.MinTempo || f.rampTo > rhythm.MaxTempo {
			return rhythm.Config{}, fmt.Errorf("ramp target %d outside %d-%d", f.rampTo, rhythm.MinTempo, rhythm.MaxTempo)
		}
		rc.Ramp = &rhythm.Ramp{StartBPM: f.tempo, EndBPM: f.rampTo, Duration: f.rampMinutes}
	}
	return rc.Normalize(), nil
}

var (
	playRhythm rhythmFlags
	playFor    time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a click track on this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := playRhythm.config()
		if err != nil {
			return err
		}
		return playLocal(cmd.Context(), rc, nil)
	},
}

func init() {
	playRhythm.register(playCmd)
	playCmd.Flags().DurationVar(&playFor, "for", 0, "stop after this long (0 plays until interrupted)")
	rootCmd.AddCommand(playCmd)
}

// playLocal plays rc, or poly when set, until ctx ends or playFor elapses.
func playLocal(ctx context.Context, rc rhythm.Config, poly *rhythm.Polyrhythm) error {
	if playFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playFor)
		defer cancel()
	}

	e := newEngine(rc)
	if err := e.sched.SetPolyrhythm(poly); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	e.run(ctx, g)
	e.logBeats(ctx, g)

	if err := e.sched.Start(ctx); err != nil {
		return abort(stop, g, fmt.Errorf("start playback: %w", err))
	}
	if poly != nil {
		log.Infof("Playing %s at %d BPM", describePoly(*poly), rc.Tempo)
	} else {
		log.Infof("Playing %s at %d BPM", rc.Signature, rc.Tempo)
	}
	return g.Wait()
}
