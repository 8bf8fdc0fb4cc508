package api

import (
	"encoding/json"
	"net/http"

	"github.com/accesstechnology-mike/drumclick/internal/preset"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
)

func (s *Server) presets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Presets.List())
	case http.MethodPost:
		var req struct {
			Name   string         `json:"name"`
			Config *rhythm.Config `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		cfg := s.Metronome.Config()
		if req.Config != nil {
			cfg = *req.Config
		}
		p, err := s.Presets.Save(req.Name, cfg)
		if err != nil {
			writeError(w, err)
			return
		}
		log.Infof("Preset saved: %s", p.Name)
		writeJSON(w, http.StatusCreated, p)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

// preset handles one entry: GET reads it, PUT overwrites it with the
// current rhythm, DELETE removes it.
func (s *Server) preset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		p, err := s.Presets.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		p, err := s.Presets.Update(id, s.Metronome.Config())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := s.Presets.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "GET, PUT or DELETE required", http.StatusMethodNotAllowed)
	}
}

// presetAction loads a preset, or its neighbour in the playlist, into
// the scheduler.
func (s *Server) presetAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")

	var (
		p   preset.Preset
		err error
	)
	switch r.PathValue("action") {
	case "load":
		p, err = s.Presets.Get(id)
	case "next":
		p, err = s.Presets.Next(id)
	case "prev":
		p, err = s.Presets.Prev(id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.retune(p.Config); err != nil {
		writeError(w, err)
		return
	}
	log.Infof("Preset loaded: %s", p.Name)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) movePreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.Presets.Move(req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Presets.List())
}
