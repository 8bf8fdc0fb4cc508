// Package api serves the host's JSON control surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/accesstechnology-mike/drumclick/internal/audio"
	"github.com/accesstechnology-mike/drumclick/internal/band"
	"github.com/accesstechnology-mike/drumclick/internal/metronome"
	"github.com/accesstechnology-mike/drumclick/internal/preset"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "api")

// Metronome is the scheduler as seen by the API.
type Metronome interface {
	Status() metronome.Status
	Config() rhythm.Config
	Update(cfg rhythm.Config)
	SetPolyrhythm(p *rhythm.Polyrhythm) error
}

// Server wires the control endpoints. Optional fields may be nil.
type Server struct {
	Metronome Metronome
	Transport band.Transport
	Presets   *preset.Store

	// Sync reports the session state for /api/status.
	Sync func() any
	// Listeners counts monitor listeners.
	Listeners func() int

	Signaling     http.Handler // POST /sessions/{id}/offer
	MonitorOffer  http.Handler // POST /monitor/offer
	MonitorStream http.Handler // GET /monitor/stream
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/config", s.config)
	mux.HandleFunc("/api/polyrhythm", s.polyrhythm)
	mux.HandleFunc("/api/start", s.start)
	mux.HandleFunc("/api/stop", s.stop)

	if s.Presets != nil {
		mux.HandleFunc("/api/presets", s.presets)
		mux.HandleFunc("/api/presets/move", s.movePreset)
		mux.HandleFunc("/api/presets/{id}", s.preset)
		mux.HandleFunc("/api/presets/{id}/{action}", s.presetAction)
	}

	if s.Signaling != nil {
		mux.Handle("/sessions/{id}/offer", s.Signaling)
	}
	if s.MonitorOffer != nil {
		mux.Handle("/monitor/offer", s.MonitorOffer)
	}
	if s.MonitorStream != nil {
		mux.Handle("/monitor/stream", s.MonitorStream)
	}
	return mux
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.Metronome.Status()
	resp := map[string]any{
		"playing":      st.Playing,
		"tempo":        st.Tempo,
		"signature":    st.Config.Signature,
		"current_beat": st.CurrentBeat,
		"polyrhythm":   st.Polyrhythm,
		"config":       st.Config,
	}
	if s.Sync != nil {
		resp["sync"] = s.Sync()
	}
	if s.Listeners != nil {
		resp["monitor_listeners"] = s.Listeners()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Transport.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	log.Info("Transport started via API")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Transport.Stop(); err != nil {
		writeError(w, err)
		return
	}
	log.Info("Transport stopped via API")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) polyrhythm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var p *rhythm.Polyrhythm
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.Metronome.SetPolyrhythm(p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.Metronome.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, preset.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, preset.ErrInvalidName), errors.Is(err, preset.ErrOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, band.ErrMemberStart), errors.Is(err, band.ErrHostedRamp):
		code = http.StatusConflict
	case errors.Is(err, audio.ErrAudioUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), code)
}
