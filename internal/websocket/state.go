package websocket

import "strings"

// State is the lifecycle state of a Socket.
type State uint8

const (
	// Connecting means a transport is being dialed.
	Connecting State = iota
	// Open means the current transport completed its handshake.
	Open
	// Closed means the current transport is gone and a reconnect is pending.
	Closed
	// Shutdown is terminal, entered only through Socket.Shutdown.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// NormalizeURL rewrites a leading "http" to "ws", so http:// becomes ws:// and
// https:// becomes wss://. Anything else is returned unchanged.
func NormalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http") {
		return "ws" + addr[len("http"):]
	}
	return addr
}
