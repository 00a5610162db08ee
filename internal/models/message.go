package models

import "encoding/json"

// FrameType discriminates JSON frames on the client WebSocket.
type FrameType string

// Inbound (client -> gateway).
const (
	FrameConnect       FrameType = "connect"
	FrameProduce       FrameType = "produce"
	FrameConsume       FrameType = "consume"
	FrameCloseProducer FrameType = "closeProducer"
	FrameCloseConsumer FrameType = "closeConsumer"
	FrameChat          FrameType = "message"
	FrameBye           FrameType = "bye"
)

// Outbound (gateway -> client).
const (
	FrameInit                  FrameType = "init"
	FrameJoin                  FrameType = "join"
	FrameLeave                 FrameType = "leave"
	FrameProducerClosed        FrameType = "producerClosed"
	FrameConsumerClosed        FrameType = "consumerClosed"
	FrameConnected             FrameType = "connected"
	FrameProduced              FrameType = "produced"
	FrameConsumed              FrameType = "consumed"
	FrameError                 FrameType = "error"
	FrameProducerAlreadyExists FrameType = "producerAlreadyExists"
	FrameProducerNotFound      FrameType = "producerNotFound"
	FrameSelfProducer          FrameType = "selfProducer"
	FrameCallAccepted          FrameType = "callAccepted"
	FrameCallRejected          FrameType = "callRejected"
)

// ClientFrame is the envelope read off the client socket; the payload fields
// live alongside Type and are re-unmarshaled per frame kind.
type ClientFrame struct {
	Type FrameType `json:"type"`
}

// ConnectPayload carries DTLS parameters for one of the two transports.
type ConnectPayload struct {
	TransportType  string          `json:"transportType" binding:"required,oneof=send recv"`
	DTLSParameters json.RawMessage `json:"dtlsParameters" binding:"required"`
}

type ProducePayload struct {
	Kind          string          `json:"kind" binding:"required,oneof=audio video"`
	RTPParameters json.RawMessage `json:"rtpParameters" binding:"required"`
}

type ConsumePayload struct {
	ProducerID      string          `json:"producerId" binding:"required"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities" binding:"required"`
	PeerID          string          `json:"peerId" binding:"required"`
}

type CloseProducerPayload struct {
	ProducerID string `json:"producerId" binding:"required"`
}

type CloseConsumerPayload struct {
	ConsumerID string `json:"consumerId" binding:"required"`
}

// ChatPayload is an application-level text message relayed to the room.
type ChatPayload struct {
	Message string `json:"message" binding:"required"`
	Sign    string `json:"sign,omitempty"`
}

// ProducerSummary describes one existing producer to a joining client.
type ProducerSummary struct {
	ProducerID string `json:"producerId"`
	PeerID     string `json:"peerId"`
	Kind       string `json:"kind"`
}

// TransportPair carries the send/recv transport descriptors in the init frame.
type TransportPair struct {
	Send json.RawMessage `json:"send"`
	Recv json.RawMessage `json:"recv"`
}

// InitFrame is the single message sent to a client after a successful join.
type InitFrame struct {
	Type                  FrameType         `json:"type"`
	RoomID                string            `json:"roomId"`
	Peers                 []string          `json:"peers"`
	CallType              CallKind          `json:"callType"`
	MyPeerID              string            `json:"myPeerId"`
	RouterRTPCapabilities json.RawMessage   `json:"routerRtpCapabilities,omitempty"`
	Transport             *TransportPair    `json:"transport,omitempty"`
	Producers             []ProducerSummary `json:"producers"`
}

// EventFrame is a state-change notice pushed to clients (join, leave, produce,
// producerClosed, consumerClosed, callAccepted, callRejected, message relay).
type EventFrame struct {
	Type       FrameType `json:"type"`
	RoomID     string    `json:"roomId,omitempty"`
	PeerID     string    `json:"peerId,omitempty"`
	ProducerID string    `json:"producerId,omitempty"`
	ConsumerID string    `json:"consumerId,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Token      string    `json:"token,omitempty"`
	Message    string    `json:"message,omitempty"`
	Sign       string    `json:"sign,omitempty"`
}

// ConnectedFrame acknowledges a connect message.
type ConnectedFrame struct {
	Type          FrameType `json:"type"`
	TransportType string    `json:"transportType"`
}

type ProducedFrame struct {
	Type       FrameType `json:"type"`
	ProducerID string    `json:"producerId"`
	Kind       string    `json:"kind"`
}

type ConsumedFrame struct {
	Type          FrameType       `json:"type"`
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	PeerID        string          `json:"peerId"`
}

// ErrorFrame reports a validation or operational failure. The connection is
// not closed after sending one.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}
