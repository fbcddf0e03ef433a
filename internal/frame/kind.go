package frame

import "fmt"

// EventKind is the first byte of every frame.
//
// NOTE: the ordinals are shared with the server, never reorder them.
type EventKind uint8

const (
	Authentication EventKind = iota
	Join
	Leave
	SetClient
	SetClients
	Signal
)

func (k EventKind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Join:
		return "join"
	case Leave:
		return "leave"
	case SetClient:
		return "set-client"
	case SetClients:
		return "set-clients"
	case Signal:
		return "signal"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(k))
	}
}

// Known reports whether k is part of the event table.
func (k EventKind) Known() bool {
	return k <= Signal
}
