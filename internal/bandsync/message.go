package bandsync

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned by Decode for an unrecognized type field.
var ErrUnknownMessage = errors.New("unknown sync message")

// Message is one of Ping, Pong, Start or Stop.
type Message interface {
	Type() string
}

// Ping is sent by the leader every ping interval. Skew and Quality carry
// the leader's current estimate for the receiving member, once it has one.
type Ping struct {
	TS        float64  `json:"ts"`        // leader monotonic milliseconds
	AudioTime float64  `json:"audioTime"` // leader audio clock, seconds
	Skew      *float64 `json:"skew,omitempty"`
	Quality   string   `json:"quality,omitempty"`
}

// Pong answers a Ping, echoing its TS.
type Pong struct {
	TS        float64 `json:"ts"`
	AudioTime float64 `json:"audioTime"` // member audio clock when answering
}

// Start tells members to begin playing with the first beat at
// StartAudioTime on the leader's clock.
type Start struct {
	StartAudioTime float64 `json:"startAudioTime"`
	Tempo          int     `json:"tempo"`
	Signature      string  `json:"signature"`
}

type Stop struct{}

func (Ping) Type() string  { return "ping" }
func (Pong) Type() string  { return "pong" }
func (Start) Type() string { return "start" }
func (Stop) Type() string  { return "stop" }

// Encode renders m as a JSON object with a "type" field.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case Ping:
		return json.Marshal(struct {
			Type string `json:"type"`
			Ping
		}{m.Type(), m})
	case Pong:
		return json.Marshal(struct {
			Type string `json:"type"`
			Pong
		}{m.Type(), m})
	case Start:
		return json.Marshal(struct {
			Type string `json:"type"`
			Start
		}{m.Type(), m})
	case Stop:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{m.Type()})
	}
	return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownMessage)
}

// Decode parses a JSON sync message.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}

	var (
		m   Message
		err error
	)
	switch env.Type {
	case "ping":
		var p Ping
		err = json.Unmarshal(data, &p)
		m = p
	case "pong":
		var p Pong
		err = json.Unmarshal(data, &p)
		m = p
	case "start":
		var s Start
		err = json.Unmarshal(data, &s)
		m = s
	case "stop":
		m = Stop{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return m, nil
}
