package webrtc

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/sushiag/signaling-socket/internal/frame"
)

func TestConfiguration(t *testing.T) {
	cfg := Configuration("stun:stun.example.com:3478")
	require.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.ICEServers[0].URLs)
	require.Equal(t, []string{DefaultSTUNServer}, Configuration("").ICEServers[0].URLs)
}

func TestSessionSignal(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}

	raw, err := SessionSignal(offer)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"offer","sdp":"v=0\r\n"}`, string(raw))

	sig, err := ParseSignal(raw)
	require.NoError(t, err)
	require.Nil(t, sig.Candidate)
	require.Equal(t, offer, *sig.Description)
}

func TestCandidateSignal(t *testing.T) {
	mid := "0"
	index := uint16(0)
	candidate := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}

	raw, err := CandidateSignal(candidate)
	require.NoError(t, err)

	sig, err := ParseSignal(raw)
	require.NoError(t, err)
	require.Nil(t, sig.Description)
	require.Equal(t, candidate, *sig.Candidate)
}

func TestParseSignalErrors(t *testing.T) {
	_, err := ParseSignal(json.RawMessage(`{"type":"hello"}`))
	require.ErrorIs(t, err, ErrUnknownSignal)

	_, err = ParseSignal(json.RawMessage(`{"type":"candidate"}`))
	require.Error(t, err)

	_, err = ParseSignal(json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

type sendRecorder struct {
	kind    frame.EventKind
	payload any
}

func (s *sendRecorder) Send(kind frame.EventKind, payload any) error {
	s.kind = kind
	s.payload = payload
	return nil
}

func TestSendSignal(t *testing.T) {
	raw, err := SessionSignal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
	require.NoError(t, err)

	var rec sendRecorder
	require.NoError(t, SendSignal(&rec, "peer-2", raw))
	require.Equal(t, frame.Signal, rec.kind)

	b, err := frame.Encode(rec.kind, rec.payload)
	require.NoError(t, err)
	f, err := frame.Decode(b)
	require.NoError(t, err)
	require.JSONEq(t, `["peer-2",{"type":"answer","sdp":"x"}]`, string(f.Payload))
}
