// Package peer carries sync messages over WebRTC data channels.
package peer

import (
	"context"
	"sync"

	"github.com/accesstechnology-mike/drumclick/internal/bandsync"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "peer")

// Label names the data channel members open towards the leader.
const Label = "bandsync"

// DataChannel adapts an ordered WebRTC data channel to bandsync.Channel.
// Closing it tears down the whole peer connection.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	in   chan bandsync.Message
	done chan struct{}
	once sync.Once
}

func newDataChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *DataChannel {
	c := &DataChannel{
		pc:   pc,
		dc:   dc,
		in:   make(chan bandsync.Message, 64),
		done: make(chan struct{}),
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := bandsync.Decode(msg.Data)
		if err != nil {
			log.WithError(err).Debug("Dropping malformed message")
			return
		}
		select {
		case c.in <- m:
		case <-c.done:
		}
	})
	dc.OnClose(c.shutdown)
	dc.OnError(func(err error) {
		log.WithError(err).Warn("Data channel error")
	})
	return c
}

func (c *DataChannel) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *DataChannel) Send(m bandsync.Message) error {
	select {
	case <-c.done:
		return bandsync.ErrClosed
	default:
	}
	data, err := bandsync.Encode(m)
	if err != nil {
		return err
	}
	return c.dc.SendText(string(data))
}

func (c *DataChannel) Receive(ctx context.Context) (bandsync.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	default:
	}
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, bandsync.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *DataChannel) Close() error {
	c.shutdown()
	c.dc.Close()
	return c.pc.Close()
}

// Done is closed once the channel stops delivering messages.
func (c *DataChannel) Done() <-chan struct{} {
	return c.done
}

func configuration(iceURLs []string) webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return cfg
}

// closeOnFailure closes pc once the connection cannot recover, which in
// turn closes its data channels.
func closeOnFailure(pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			pc.Close()
		}
	})
}
