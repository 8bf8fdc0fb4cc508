// Package audio is the sound output primitive: a sample-counting clock, a
// mixer that starts voices at exact frame offsets, synthesized click tones
// and decoded voice samples.
package audio

import (
	"errors"
	"time"

	"github.com/gopxl/beep"
	"github.com/sirupsen/logrus"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

var (
	// ErrAudioUnavailable means no output could be opened or started.
	ErrAudioUnavailable = errors.New("audio output unavailable")
	// ErrSampleLoadFailed wraps a single asset that could not be decoded.
	ErrSampleLoadFailed = errors.New("sample load failed")
)

var log = logrus.WithField("component", "audio")

// Backend renders the mixer somewhere: a sound card, or a real-time frame
// pipeline when running headless. Start must return promptly and pull from
// src on its own goroutine.
type Backend interface {
	Start(src beep.Streamer) error
	Close() error
}

// BackendFactory opens a backend at the given rate.
type BackendFactory func(sr beep.SampleRate) (Backend, error)
