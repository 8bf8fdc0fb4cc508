package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/spf13/cobra"
)

var (
	polyTempo  int
	polyPulses string
	polyPans   string
	polyAnchor int
	polyVoice  bool
)

var polyCmd = &cobra.Command{
	Use:   "poly",
	Short: "Play a polyrhythm, e.g. 3 against 2",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if polyTempo < rhythm.MinTempo || polyTempo > rhythm.MaxTempo {
			return fmt.Errorf("tempo %d outside %d-%d", polyTempo, rhythm.MinTempo, rhythm.MaxTempo)
		}
		p, err := parsePolyrhythm(polyPulses, polyPans, polyAnchor, polyVoice)
		if err != nil {
			return err
		}
		rc := rhythm.DefaultConfig()
		rc.Tempo = polyTempo
		return playLocal(cmd.Context(), rc, &p)
	},
}

func init() {
	flags := polyCmd.Flags()
	flags.IntVarP(&polyTempo, "tempo", "t", cfg.Tempo, "tempo of the anchor pulse in BPM")
	flags.StringVarP(&polyPulses, "pulses", "p", "3,2", "beats per pulse, comma separated")
	flags.StringVar(&polyPans, "pans", "", "stereo position per pulse, -1 to 1 (default spreads them)")
	flags.IntVar(&polyAnchor, "anchor", 0, "pulse whose beats drive the beat display")
	flags.BoolVar(&polyVoice, "voice", false, "count the anchor pulse aloud")
	polyCmd.Flags().DurationVar(&playFor, "for", 0, "stop after this long (0 plays until interrupted)")
	rootCmd.AddCommand(polyCmd)
}

func parsePolyrhythm(pulses, pans string, anchor int, voice bool) (rhythm.Polyrhythm, error) {
	var p rhythm.Polyrhythm
	for _, f := range strings.Split(pulses, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return p, fmt.Errorf("pulse %q: %w", f, err)
		}
		if n < rhythm.MinPulseBeats || n > rhythm.MaxPulseBeats {
			return p, fmt.Errorf("pulse %d outside %d-%d", n, rhythm.MinPulseBeats, rhythm.MaxPulseBeats)
		}
		p.Pulses = append(p.Pulses, rhythm.PulseConfig{Beats: n, UseClick: true})
	}

	positions, err := parsePans(pans, len(p.Pulses))
	if err != nil {
		return p, err
	}
	for i := range p.Pulses {
		p.Pulses[i].Pan = positions[i]
	}

	p.Anchor = anchor
	if err := p.Validate(); err != nil {
		return p, err
	}
	p.Pulses[anchor].AccentFirstBeat = true
	p.Pulses[anchor].UseVoice = voice
	return p, nil
}

// parsePans reads explicit positions, or spreads n pulses evenly between
// hard-ish left and right.
func parsePans(s string, n int) ([]float64, error) {
	out := make([]float64, n)
	if s == "" {
		if n > 1 {
			for i := range out {
				out[i] = -0.8 + 1.6*float64(i)/float64(n-1)
			}
		}
		return out, nil
	}
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("%d pans for %d pulses", len(fields), n)
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("pan %q: %w", f, err)
		}
		out[i] = max(-1, min(1, v))
	}
	return out, nil
}

func describePoly(p rhythm.Polyrhythm) string {
	parts := make([]string, len(p.Pulses))
	for i, pc := range p.Pulses {
		parts[i] = strconv.Itoa(pc.Beats)
	}
	return strings.Join(parts, ":")
}
