package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/accesstechnology-mike/drumclick/internal/band"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

// configPatch is a partial rhythm update. Absent fields keep their value;
// "ramp": null removes the ramp.
type configPatch struct {
	Tempo            *int                `json:"tempo"`
	Signature        *string             `json:"signature"`
	Subdivision      *rhythm.Subdivision `json:"subdivision"`
	Swing            *bool               `json:"swing"`
	Accent           *bool               `json:"accent"`
	Voice            *bool               `json:"voice"`
	Click            *bool               `json:"click"`
	VoiceSubdivision *bool               `json:"voice_subdivision"`
	Ramp             json.RawMessage     `json:"ramp"`
}

func validTempo(bpm int) bool {
	return bpm >= rhythm.MinTempo && bpm <= rhythm.MaxTempo
}

// apply returns cfg with the patch applied, or an error describing the
// first invalid field.
func (p configPatch) apply(cfg rhythm.Config) (rhythm.Config, error) {
	if p.Tempo != nil {
		if !validTempo(*p.Tempo) {
			return cfg, fmt.Errorf("tempo must be between %d and %d", rhythm.MinTempo, rhythm.MaxTempo)
		}
		cfg.Tempo = *p.Tempo
	}
	if p.Signature != nil {
		sig, err := rhythm.ParseTimeSignature(*p.Signature)
		if err != nil {
			return cfg, err
		}
		cfg.Signature = sig
	}
	if p.Subdivision != nil {
		cfg.Subdivision = *p.Subdivision
	}
	if p.Swing != nil {
		cfg.Swing = *p.Swing
	}
	if p.Accent != nil {
		cfg.AccentFirstBeat = *p.Accent
	}
	if p.Voice != nil {
		cfg.UseVoice = *p.Voice
	}
	if p.Click != nil {
		cfg.UseClick = *p.Click
	}
	if p.VoiceSubdivision != nil {
		cfg.VoiceSubdivision = *p.VoiceSubdivision
	}
	if len(p.Ramp) > 0 {
		if string(p.Ramp) == "null" {
			cfg.Ramp = nil
		} else {
			var ramp rhythm.Ramp
			if err := json.Unmarshal(p.Ramp, &ramp); err != nil {
				return cfg, fmt.Errorf("invalid ramp: %v", err)
			}
			if !validTempo(ramp.StartBPM) || !validTempo(ramp.EndBPM) {
				return cfg, fmt.Errorf("ramp tempos must be between %d and %d", rhythm.MinTempo, rhythm.MaxTempo)
			}
			if ramp.Duration <= 0 {
				return cfg, fmt.Errorf("ramp duration must be positive")
			}
			cfg.Ramp = &ramp
		}
	}
	return cfg.Normalize(), nil
}

func (s *Server) config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Metronome.Config())
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cfg, err := patch.apply(s.Metronome.Config())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.retune(cfg); err != nil {
		writeError(w, err)
		return
	}
	log.Infof("Rhythm set: %d BPM %s, subdivision %s", cfg.Tempo, cfg.Signature, cfg.Subdivision)
	writeJSON(w, http.StatusOK, cfg)
}

// retune applies cfg to the metronome. A transport that shares the rhythm
// with other players may refuse it, and hears about it once applied.
func (s *Server) retune(cfg rhythm.Config) error {
	rt, shared := s.Transport.(band.Retimer)
	if shared {
		if err := rt.CheckConfig(cfg); err != nil {
			return err
		}
	}
	prev := s.Metronome.Config()
	s.Metronome.Update(cfg)
	if shared {
		rt.Retime(prev, cfg)
	}
	return nil
}
