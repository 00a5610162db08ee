// Package session owns the gateway's in-memory session table. The registry
// is the single piece of shared mutable state in the process; every access
// goes through its mutex, and multi-step join/produce sequences re-check
// their preconditions here immediately before mutating.
package session

import (
	"github.com/mossy-p/call-gateway/internal/models"
)

// State is the explicit join-sequence state of one session. Frames are only
// dispatched for sessions in StateActive.
type State int

const (
	StateAwaitingToken State = iota
	StateTokenValid
	StateRoomReady
	StatePeerReady
	StateTransportsReady
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingToken:
		return "awaiting-token"
	case StateTokenValid:
		return "token-valid"
	case StateRoomReady:
		return "room-ready"
	case StatePeerReady:
		return "peer-ready"
	case StateTransportsReady:
		return "transports-ready"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the connection handle a session holds; the registry uses it to
// close evicted connections and to fan frames out to a room.
type Conn interface {
	// Send enqueues an outbound frame; it must not block.
	Send(frame any)
	// Close tears the connection down.
	Close()
}

// Session links one live WebSocket connection to its backend peer and
// transport identifiers. It is registered after a successful join and
// removed on disconnect or eviction.
type Session struct {
	Key             string
	UserID          string
	RoomID          string
	PeerID          string
	CallKind        models.CallKind
	ParticipantKind models.ParticipantKind
	// SendTransportID, RecvTransportID and State are guarded by the
	// registry mutex once the session is registered; read them through the
	// registry, not off a retained pointer.
	SendTransportID string
	RecvTransportID string
	State           State
	Conn            Conn

	// producers maps media kind to producer id; guarded by the registry
	// mutex, and "" marks a reservation whose backend create is in flight.
	producers map[string]string
}
