// Package relay is a small coordination server that speaks the binary frame
// protocol. It hands out connection ids, tells everyone about joins and leaves
// and forwards signal frames between clients. It exists for local development
// and end to end tests, not for production traffic.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sushiag/signaling-socket/internal/frame"
)

const writeWait = 10 * time.Second

// ClientRecord is the value side of the set-clients table.
type ClientRecord struct {
	ID       frame.ID `json:"id"`
	PlayerID frame.ID `json:"playerId"`
}

type client struct {
	ClientRecord
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(kind frame.EventKind, payload any) error {
	b, err := frame.Encode(kind, payload)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *client) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

// forward relays signal data as [from, data] without decoding data again.
func (c *client) forward(from frame.ID, data json.RawMessage) error {
	id, err := json.Marshal(from)
	if err != nil {
		return err
	}

	body := make([]byte, 0, len(id)+len(data)+3)
	body = append(body, '[')
	body = append(body, id...)
	body = append(body, ',')
	body = append(body, data...)
	body = append(body, ']')

	b, err := frame.EncodeRaw(frame.Signal, body)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *client) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

type Server struct {
	upgrader     websocket.Upgrader
	authenticate func(*http.Request) bool
	log          logrus.FieldLogger
	pingInterval time.Duration

	mtx     sync.RWMutex
	clients map[frame.ID]*client
}

type Option func(*Server)

// WithAuthenticator rejects upgrades for which fn returns false.
func WithAuthenticator(fn func(*http.Request) bool) Option {
	return func(s *Server) {
		s.authenticate = fn
	}
}

// WithAllowedOrigin restricts the Origin header, "*" or "" allows any.
func WithAllowedOrigin(allowedOrigin string) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		authenticate: func(*http.Request) bool { return true },
		log:          logrus.StandardLogger(),
		pingInterval: 30 * time.Second,
		clients:      make(map[frame.ID]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "relay")
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// The player query parameter sets the player id, it defaults to the
// connection id.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade failed")
		return
	}

	id := frame.ID(uuid.NewString())
	playerID := frame.ID(r.URL.Query().Get("player"))
	if playerID == "" {
		playerID = id
	}
	c := &client{ClientRecord: ClientRecord{ID: id, PlayerID: playerID}, conn: conn}
	log := s.log.WithFields(logrus.Fields{"client": id, "player": playerID})

	// the welcome goes out before c is visible to broadcast, so its first
	// frames are always authentication, set-client and set-clients
	s.mtx.Lock()
	err = s.welcome(c)
	s.clients[id] = c
	s.mtx.Unlock()
	if err != nil {
		log.WithError(err).Warn("failed to greet client")
	}
	log.Info("client connected")

	s.broadcast(id, frame.Join, frame.Pair(id, playerID))

	done := make(chan struct{})
	go s.sendPings(c, done)
	s.readMessages(c, log)
	close(done)

	s.mtx.Lock()
	delete(s.clients, id)
	s.mtx.Unlock()
	_ = conn.Close()

	s.broadcast(id, frame.Leave, []frame.ID{id})
	log.Info("client disconnected")
}

// Clients returns the records of everyone connected.
func (s *Server) Clients() map[frame.ID]ClientRecord {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.records()
}

// records must be called with mtx held.
func (s *Server) records() map[frame.ID]ClientRecord {
	out := make(map[frame.ID]ClientRecord, len(s.clients))
	for id, c := range s.clients {
		out[id] = c.ClientRecord
	}
	return out
}

// welcome must be called with mtx held. The table it sends already includes c.
func (s *Server) welcome(c *client) error {
	if err := c.send(frame.Authentication, nil); err != nil {
		return err
	}
	if err := c.send(frame.SetClient, frame.Pair(c.ID, c.PlayerID)); err != nil {
		return err
	}

	table := s.records()
	table[c.ID] = c.ClientRecord
	return c.send(frame.SetClients, table)
}

func (s *Server) broadcast(from frame.ID, kind frame.EventKind, payload any) {
	s.mtx.RLock()
	targets := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		if id != from {
			targets = append(targets, c)
		}
	}
	s.mtx.RUnlock()

	for _, c := range targets {
		if err := c.send(kind, payload); err != nil {
			s.log.WithError(err).WithField("client", c.ID).Warn("broadcast failed")
		}
	}
}

func (s *Server) readMessages(c *client, log logrus.FieldLogger) {
	pongWait := 2 * s.pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("read failed")
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			log.Warn("non-binary message, closing")
			c.close(websocket.CloseUnsupportedData, "binary frames only")
			return
		}

		f, err := frame.Decode(data)
		if err != nil {
			log.WithError(err).Warn("bad frame, closing")
			c.close(websocket.CloseProtocolError, "malformed frame")
			return
		}

		switch f.Kind {
		case frame.Signal:
			// inbound signals are [to, data], Parse reads the first element as From
			ev, err := frame.Parse(f)
			if err != nil {
				log.WithError(err).Warn("bad signal, closing")
				c.close(websocket.CloseProtocolError, "malformed frame")
				return
			}
			s.relaySignal(c, ev.(frame.SignalEvent), log)
		default:
			log.WithField("kind", f.Kind.String()).Debug("ignoring frame")
		}
	}
}

func (s *Server) relaySignal(from *client, ev frame.SignalEvent, log logrus.FieldLogger) {
	to := ev.From

	s.mtx.RLock()
	target, ok := s.clients[to]
	s.mtx.RUnlock()

	if !ok {
		log.WithField("to", to).Warn("signal for unknown client")
		return
	}
	if err := target.forward(from.ID, ev.Data); err != nil {
		log.WithError(err).WithField("to", to).Warn("failed to relay signal")
	}
}

func (s *Server) sendPings(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
