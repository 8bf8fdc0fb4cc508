package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/pion/webrtc/v4"
)

// Dialer joins a leader's session by posting an SDP offer to its
// signaling endpoint.
type Dialer struct {
	BaseURL string
	ICEURLs []string
	HTTP    *http.Client
	// OpenTimeout bounds the wait for the data channel after signaling.
	OpenTimeout time.Duration
}

func (d *Dialer) Dial(ctx context.Context, sessionID string) (bandsync.Channel, error) {
	pc, err := webrtc.NewPeerConnection(configuration(d.ICEURLs))
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %v", bandsync.ErrPeerConnection, err)
	}
	ch, err := d.negotiate(ctx, pc, sessionID)
	if err != nil {
		pc.Close()
		return nil, err
	}
	return ch, nil
}

func (d *Dialer) negotiate(ctx context.Context, pc *webrtc.PeerConnection, sessionID string) (*DataChannel, error) {
	closeOnFailure(pc)

	ordered := true
	dc, err := pc.CreateDataChannel(Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("%w: create data channel: %v", bandsync.ErrPeerConnection, err)
	}
	ch := newDataChannel(pc, dc)
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", bandsync.ErrPeerConnection, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local description: %v", bandsync.ErrPeerConnection, err)
	}
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	answer, err := d.exchange(ctx, sessionID, pc.LocalDescription())
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		return nil, fmt.Errorf("%w: set remote description: %v", bandsync.ErrPeerConnection, err)
	}

	timeout := d.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-opened:
		return ch, nil
	case <-ch.Done():
		return nil, fmt.Errorf("%w: data channel closed before open", bandsync.ErrPeerConnection)
	case <-timer.C:
		return nil, fmt.Errorf("%w: data channel did not open within %s", bandsync.ErrPeerConnection, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dialer) exchange(ctx context.Context, sessionID string, offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(d.BaseURL, "/") + "/sessions/" + url.PathEscape(sessionID) + "/offer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: signaling: %v", bandsync.ErrPeerConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", bandsync.ErrSessionNotFound, sessionID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: signaling returned %s", bandsync.ErrPeerConnection, resp.Status)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("%w: decode answer: %v", bandsync.ErrPeerConnection, err)
	}
	return &answer, nil
}
