package relay

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/sushiag/signaling-socket/internal/frame"
	ws "github.com/sushiag/signaling-socket/internal/websocket"
	"github.com/sushiag/signaling-socket/internal/webrtc"
)

const waitTimeout = 2 * time.Second

type peer struct {
	socket     *ws.Socket
	connect    chan struct{}
	auth       chan struct{}
	setClient  chan frame.SetClientEvent
	setIDs     chan frame.SetIDsEvent
	joins      chan frame.JoinEvent
	leaves     chan frame.LeaveEvent
	signals    chan frame.SignalEvent
	disconnect chan error
}

func newPeer(t *testing.T, url string) *peer {
	t.Helper()

	p := &peer{
		connect:    make(chan struct{}, 8),
		auth:       make(chan struct{}, 8),
		setClient:  make(chan frame.SetClientEvent, 8),
		setIDs:     make(chan frame.SetIDsEvent, 8),
		joins:      make(chan frame.JoinEvent, 8),
		leaves:     make(chan frame.LeaveEvent, 8),
		signals:    make(chan frame.SignalEvent, 8),
		disconnect: make(chan error, 8),
	}

	logger, _ := logtest.NewNullLogger()
	p.socket = ws.New(url,
		ws.WithLogger(logger),
		ws.WithReconnectDelay(20*time.Millisecond),
		ws.WithListener(ws.Listener{
			Connect:      func() { p.connect <- struct{}{} },
			Disconnect:   func(err error) { p.disconnect <- err },
			Authenticate: func(frame.AuthenticateEvent) { p.auth <- struct{}{} },
			SetClient:    func(ev frame.SetClientEvent) { p.setClient <- ev },
			SetIDs:       func(ev frame.SetIDsEvent) { p.setIDs <- ev },
			Join:         func(ev frame.JoinEvent) { p.joins <- ev },
			Leave:        func(ev frame.LeaveEvent) { p.leaves <- ev },
			Signal:       func(ev frame.SignalEvent) { p.signals <- ev },
		}),
	)
	t.Cleanup(func() {
		p.socket.Shutdown()
		<-p.socket.Done()
	})
	return p
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	relay := NewServer(append([]Option{WithLogger(logger)}, opts...)...)

	mux := http.NewServeMux()
	mux.Handle("/ws", relay)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return relay, server
}

func TestRelayFlow(t *testing.T) {
	relay, server := newTestServer(t)

	// http:// is rewritten to ws:// by the socket
	alice := newPeer(t, server.URL+"/ws?player=alice")
	recv(t, alice.connect)
	recv(t, alice.auth)
	aliceID := recv(t, alice.setClient)
	require.Equal(t, frame.ID("alice"), aliceID.PlayerID)
	require.Len(t, recv(t, alice.setIDs).Clients, 1)

	bob := newPeer(t, server.URL+"/ws?player=bob")
	recv(t, bob.connect)
	recv(t, bob.auth)
	bobID := recv(t, bob.setClient)
	ids := recv(t, bob.setIDs)
	require.Len(t, ids.Clients, 2)
	require.JSONEq(t, `{"id":"`+string(aliceID.ID)+`","playerId":"alice"}`, string(ids.Clients[aliceID.ID]))

	// alice hears about bob
	join := recv(t, alice.joins)
	require.Equal(t, frame.JoinEvent{ID: bobID.ID, PlayerID: "bob"}, join)
	require.Len(t, relay.Clients(), 2)

	// alice -> bob offer
	offer, err := webrtc.SessionSignal(pionOffer())
	require.NoError(t, err)
	require.NoError(t, webrtc.SendSignal(alice.socket, bobID.ID, offer))

	sig := recv(t, bob.signals)
	require.Equal(t, aliceID.ID, sig.From)
	parsed, err := webrtc.ParseSignal(sig.Data)
	require.NoError(t, err)
	require.Equal(t, "offer", parsed.Description.Type.String())

	// bob leaves for good
	bob.socket.Shutdown()
	<-bob.socket.Done()
	leave := recv(t, alice.leaves)
	require.JSONEq(t, `["`+string(bobID.ID)+`"]`, string(leave.Payload))
	require.Eventually(t, func() bool { return len(relay.Clients()) == 1 }, waitTimeout, 10*time.Millisecond)
}

// Clients keep joining and leaving while newcomers connect. Each newcomer's
// first three frames must still be its own welcome, never someone's join.
func TestRelayWelcomeComesFirst(t *testing.T) {
	_, server := newTestServer(t)
	url := "ws" + server.URL[4:] + "/ws"

	const clients = 20
	errs := make(chan error, clients)
	want := []frame.EventKind{frame.Authentication, frame.SetClient, frame.SetClients}

	for i := 0; i < clients; i++ {
		go func() {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
			for _, kind := range want {
				_, data, err := conn.ReadMessage()
				if err != nil {
					errs <- err
					return
				}
				f, err := frame.Decode(data)
				if err != nil {
					errs <- err
					return
				}
				if f.Kind != kind {
					errs <- fmt.Errorf("got %s, want %s", f.Kind, kind)
					return
				}
			}
			errs <- nil
		}()
	}

	for i := 0; i < clients; i++ {
		require.NoError(t, recv(t, errs))
	}
}

func TestRelaySignalToUnknownClient(t *testing.T) {
	_, server := newTestServer(t)

	alice := newPeer(t, server.URL+"/ws")
	recv(t, alice.connect)
	recv(t, alice.setClient)

	require.NoError(t, alice.socket.Send(frame.Signal, frame.Pair("nobody", "hi")))
	require.NoError(t, alice.socket.Send(frame.Leave, nil))

	select {
	case <-alice.disconnect:
		t.Fatal("relay dropped the connection")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, ws.Open, alice.socket.State())
}

func TestRelayClosesOnTextMessage(t *testing.T) {
	_, server := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:]+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)
}

func TestRelayRejectsBadToken(t *testing.T) {
	_, server := newTestServer(t, WithAuthenticator(HMACAuthenticator("s3cret")))
	url := "ws" + server.URL[4:] + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set(AuthHeader, GenerateHMACToken("s3cret"))
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHMACAuthenticator(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	require.True(t, HMACAuthenticator("")(req))

	auth := HMACAuthenticator("s3cret")
	require.False(t, auth(req))

	req.Header.Set(AuthHeader, GenerateHMACToken("s3cret"))
	require.True(t, auth(req))

	req.Header.Set(AuthHeader, GenerateHMACToken("other"))
	require.False(t, auth(req))
}

func pionOffer() pion.SessionDescription {
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\n"}
}
