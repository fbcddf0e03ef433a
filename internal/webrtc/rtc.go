package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/sushiag/signaling-socket/internal/frame"
)

const DefaultSTUNServer = "stun:stun.l.google.com:19302"

var ErrUnknownSignal = errors.New("unknown signal type")

// Configuration builds the peer connection config for one STUN server, the
// default one when stunServer is empty.
func Configuration(stunServer string) webrtc.Configuration {
	if stunServer == "" {
		stunServer = DefaultSTUNServer
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{stunServer}},
		},
	}
}

// Signal is the body of a signal event: either a session description
// (offer/answer) or a trickled ICE candidate. Exactly one field is set.
type Signal struct {
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// wire format, same shape browsers' simple-peer uses
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

const candidateType = "candidate"

func ParseSignal(data json.RawMessage) (Signal, error) {
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Signal{}, fmt.Errorf("parse signal: %w", err)
	}

	if msg.Type == candidateType {
		if msg.Candidate == nil {
			return Signal{}, fmt.Errorf("parse signal: candidate message without a candidate")
		}
		return Signal{Candidate: msg.Candidate}, nil
	}

	sdpType := webrtc.NewSDPType(msg.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, msg.Type)
	}
	return Signal{Description: &webrtc.SessionDescription{Type: sdpType, SDP: msg.SDP}}, nil
}

func SessionSignal(desc webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(signalMessage{Type: desc.Type.String(), SDP: desc.SDP})
}

func CandidateSignal(candidate webrtc.ICECandidateInit) (json.RawMessage, error) {
	return json.Marshal(signalMessage{Type: candidateType, Candidate: &candidate})
}

// Sender is satisfied by *websocket.Socket.
type Sender interface {
	Send(kind frame.EventKind, payload any) error
}

// SendSignal sends data to the client with id to. The server rewrites the
// first element to the sender's id before relaying it.
func SendSignal(s Sender, to frame.ID, data json.RawMessage) error {
	return s.Send(frame.Signal, frame.Pair(to, data))
}
