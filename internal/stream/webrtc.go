package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/accesstechnology-mike/drumclick/internal/audio"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// OpusHandler negotiates a WebRTC audio track carrying the monitor mix as
// Opus, for listeners who want the click with minimal delay.
type OpusHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	config      webrtc.Configuration

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewOpusHandler creates the monitor's WebRTC handler. A non-positive
// bitrate leaves the encoder default.
func NewOpusHandler(b *Broadcaster, bitrate int, iceURLs []string) *OpusHandler {
	h := &OpusHandler{
		broadcaster: b,
		bitrate:     bitrate,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
	if len(iceURLs) > 0 {
		h.config.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return h
}

// PeerCount returns the number of connected WebRTC listeners.
func (h *OpusHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *OpusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"drumclick-monitor",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	<-webrtc.GatheringCompletePromise(pc)

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	total := len(h.peers)
	h.mu.Unlock()
	log.Infof("Monitor peer connected (total: %d)", total)

	listener := h.broadcaster.Subscribe()
	go h.streamToPeer(listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.broadcaster.Unsubscribe(listener)
			if h.removePeer(pc) {
				pc.Close()
				log.Infof("Monitor peer disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *OpusHandler) streamToPeer(l *Listener, track *webrtc.TrackLocalStaticSample) {
	defer h.broadcaster.Unsubscribe(l)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		log.WithError(err).Error("Opus encoder unavailable")
		return
	}
	if h.bitrate > 0 {
		if err := enc.SetBitrate(h.bitrate); err != nil {
			log.WithError(err).Warnf("Opus bitrate %d rejected", h.bitrate)
		}
	}

	buf := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, buf)
			if err != nil {
				log.WithError(err).Debug("Opus encode failed")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     buf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (h *OpusHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[pc]; !ok {
		return false
	}
	delete(h.peers, pc)
	return true
}
