package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a connection, client or player. The server may send it either
// as a JSON string or as a JSON integer (snowflakes), both decode to the same
// text. null, fractions and other JSON types are rejected.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	if !isInteger(b) {
		return fmt.Errorf("%w: id must be a string or an integer, got %s", ErrMalformedFrame, b)
	}
	*id = ID(b)
	return nil
}

func isInteger(b []byte) bool {
	b = bytes.TrimPrefix(b, []byte("-"))
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(id))), nil
}

// Event is one decoded server event. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

// AuthenticateEvent tells the client the server accepted it. Payload is kept
// untouched for callers that want it.
type AuthenticateEvent struct {
	Payload json.RawMessage
}

// JoinEvent announces another connection: [id, playerId].
type JoinEvent struct {
	ID       ID
	PlayerID ID
}

type LeaveEvent struct {
	Payload json.RawMessage
}

// SetClientEvent assigns this connection its id and the player it belongs to.
type SetClientEvent struct {
	ID       ID
	PlayerID ID
}

// SignalEvent carries an opaque peer signaling payload from another client.
type SignalEvent struct {
	From ID
	Data json.RawMessage
}

// SetIDsEvent is the full connection id -> client record table.
type SetIDsEvent struct {
	Clients map[ID]json.RawMessage
}

func (AuthenticateEvent) Kind() EventKind { return Authentication }
func (JoinEvent) Kind() EventKind         { return Join }
func (LeaveEvent) Kind() EventKind        { return Leave }
func (SetClientEvent) Kind() EventKind    { return SetClient }
func (SignalEvent) Kind() EventKind       { return Signal }
func (SetIDsEvent) Kind() EventKind       { return SetClients }

func (AuthenticateEvent) isEvent() {}
func (JoinEvent) isEvent()         {}
func (LeaveEvent) isEvent()        {}
func (SetClientEvent) isEvent()    {}
func (SignalEvent) isEvent()       {}
func (SetIDsEvent) isEvent()       {}

type shapeFunc func(payload json.RawMessage) (Event, error)

var shapes = map[EventKind]shapeFunc{
	Authentication: func(p json.RawMessage) (Event, error) {
		return AuthenticateEvent{Payload: p}, nil
	},
	Join: func(p json.RawMessage) (Event, error) {
		var id, playerID ID
		if err := decodePair(p, &id, &playerID); err != nil {
			return nil, err
		}
		return JoinEvent{ID: id, PlayerID: playerID}, nil
	},
	Leave: func(p json.RawMessage) (Event, error) {
		return LeaveEvent{Payload: p}, nil
	},
	SetClient: func(p json.RawMessage) (Event, error) {
		var id, playerID ID
		if err := decodePair(p, &id, &playerID); err != nil {
			return nil, err
		}
		return SetClientEvent{ID: id, PlayerID: playerID}, nil
	},
	Signal: func(p json.RawMessage) (Event, error) {
		var from ID
		var data json.RawMessage
		if err := decodePair(p, &from, &data); err != nil {
			return nil, err
		}
		return SignalEvent{From: from, Data: data}, nil
	},
	SetClients: func(p json.RawMessage) (Event, error) {
		if len(p) == 0 || p[0] != '{' {
			return nil, fmt.Errorf("%w: set-clients payload must be an object", ErrMalformedFrame)
		}
		clients := make(map[ID]json.RawMessage)
		if err := json.Unmarshal(p, &clients); err != nil {
			return nil, fmt.Errorf("%w: set-clients: %v", ErrMalformedFrame, err)
		}
		return SetIDsEvent{Clients: clients}, nil
	},
}

// Parse validates the payload shape for f.Kind and returns the typed event.
// Unknown kinds return (nil, nil).
func Parse(f Frame) (Event, error) {
	shape, ok := shapes[f.Kind]
	if !ok {
		return nil, nil
	}
	return shape(bytes.TrimSpace(f.Payload))
}

// Pair builds the two element payload used by join, set-client and signal.
func Pair(a, b any) []any {
	return []any{a, b}
}

func decodePair(p json.RawMessage, first, second any) error {
	if len(p) == 0 || p[0] != '[' {
		return fmt.Errorf("%w: expected a 2 element array", ErrMalformedFrame)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(p, &elems); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(elems) != 2 {
		return fmt.Errorf("%w: expected a 2 element array, got %d", ErrMalformedFrame, len(elems))
	}

	if err := json.Unmarshal(elems[0], first); err != nil {
		return fmt.Errorf("%w: first element: %v", ErrMalformedFrame, err)
	}
	if err := json.Unmarshal(elems[1], second); err != nil {
		return fmt.Errorf("%w: second element: %v", ErrMalformedFrame, err)
	}
	return nil
}
