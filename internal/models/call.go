package models

import "time"

// CallKind is the kind of media a call carries.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
	CallKindText  CallKind = "text"
)

// Valid reports whether k is a recognized call kind.
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo || k == CallKindText
}

// NeedsMedia reports whether a call of this kind requires transports.
func (k CallKind) NeedsMedia() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// ParticipantKind distinguishes direct (friend) calls from group calls.
type ParticipantKind string

const (
	ParticipantFriend ParticipantKind = "friend"
	ParticipantGroup  ParticipantKind = "group"
)

// ParticipantRole marks which side of the handshake a token belongs to.
type ParticipantRole string

const (
	RoleCaller ParticipantRole = "caller"
	RoleCallee ParticipantRole = "callee"
)

// CallRequest is a pending invitation from one user to another. It is created
// on request, deleted on accept/reject, and expires via the store's TTL.
type CallRequest struct {
	RoomID            string    `json:"roomId"`
	InitiatorID       string    `json:"initiatorId"`
	CalleeID          string    `json:"calleeId"`
	CallKind          CallKind  `json:"callKind"`
	IsEncrypted       bool      `json:"isEncrypted"`
	RoomKeyHash       string    `json:"roomKeyHash,omitempty"`
	CallerSessionHint string    `json:"callerSessionHint,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CallToken is a single-use credential minted at acceptance time and presented
// by a client when opening its signaling WebSocket.
type CallToken struct {
	Token           string          `json:"token"`
	RoomID          string          `json:"roomId"`
	UserID          string          `json:"userId"`
	CallKind        CallKind        `json:"callKind"`
	Role            ParticipantRole `json:"role"`
	ParticipantKind ParticipantKind `json:"participantKind"`
}
