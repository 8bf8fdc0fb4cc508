package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/pion/webrtc/v4"
)

// Acceptor is the leader side of a sync session.
type Acceptor interface {
	SessionID() string
	Accept(ctx context.Context, ch bandsync.Channel) error
}

// Handler answers members' SDP offers on /sessions/{id}/offer and hands
// each opened data channel to the leader.
type Handler struct {
	ctx      context.Context
	acceptor Acceptor
	config   webrtc.Configuration

	mu    sync.Mutex
	peers map[*DataChannel]struct{}
}

// NewHandler creates a signaling handler. Accepted members are served
// until ctx ends.
func NewHandler(ctx context.Context, acceptor Acceptor, iceURLs []string) *Handler {
	return &Handler{
		ctx:      ctx,
		acceptor: acceptor,
		config:   configuration(iceURLs),
		peers:    make(map[*DataChannel]struct{}),
	}
}

// PeerCount returns the number of members with an open data channel.
func (h *Handler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	if id := r.PathValue("id"); id != h.acceptor.SessionID() {
		http.Error(w, "session not found", http.StatusNotFound)
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
	closeOnFailure(pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != Label {
			log.Debugf("Ignoring data channel %q", dc.Label())
			return
		}
		ch := newDataChannel(pc, dc)
		dc.OnOpen(func() {
			go h.serve(ch)
		})
	})

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

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-r.Context().Done():
		pc.Close()
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *Handler) serve(ch *DataChannel) {
	h.mu.Lock()
	h.peers[ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.peers, ch)
		h.mu.Unlock()
		ch.Close()
	}()

	if err := h.acceptor.Accept(h.ctx, ch); err != nil {
		log.WithError(err).Warn("Member connection ended")
	}
}
