package media

import (
	"encoding/json"
	"fmt"
)

// requestEnvelope is one outbound control request: {type, id, data}.
type requestEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data any    `json:"data,omitempty"`
}

// serverEnvelope is one inbound frame from the backend: either a correlated
// response or an unsolicited event.
type serverEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *BackendError   `json:"error,omitempty"`
}

// BackendError is the structured error the backend attaches to a failed
// response.
type BackendError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("media backend: %s: %s", e.Code, e.Message)
}

// RoomInfo describes a room and its peers as reported by the backend.
type RoomInfo struct {
	RoomID string     `json:"roomId"`
	Peers  []PeerInfo `json:"peers"`
}

// PeerInfo describes one peer and its producers.
type PeerInfo struct {
	PeerID    string         `json:"peerId"`
	Producers []ProducerInfo `json:"producers"`
}

// ProducerInfo describes one producer.
type ProducerInfo struct {
	ProducerID string `json:"producerId"`
	PeerID     string `json:"peerId"`
	Kind       string `json:"kind"`
}

// TransportInfo is the descriptor a client needs to connect a transport.
type TransportInfo struct {
	TransportID    string          `json:"transportId"`
	Direction      string          `json:"direction"`
	ICEParameters  json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

// ConsumerInfo describes a consumer created against another peer's producer.
type ConsumerInfo struct {
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

// Event is a state-change push from the backend. The set of variants is
// closed; unrecognized event names are logged and dropped by the client.
type Event interface {
	event()
}

type TransportClosed struct {
	RoomID      string
	PeerID      string
	TransportID string
}

type ProducerClosed struct {
	RoomID     string
	PeerID     string
	ProducerID string
}

type ConsumerClosed struct {
	RoomID     string
	PeerID     string
	ConsumerID string
}

type PeerClosed struct {
	RoomID string
	PeerID string
}

type RoomClosed struct {
	RoomID string
}

func (TransportClosed) event() {}
func (ProducerClosed) event()  {}
func (ConsumerClosed) event()  {}
func (PeerClosed) event()      {}
func (RoomClosed) event()      {}

type eventPayload struct {
	Event       string `json:"event"`
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
	ConsumerID  string `json:"consumerId"`
}

func parseEvent(data json.RawMessage) (Event, bool) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	switch p.Event {
	case "transportClosed":
		return TransportClosed{RoomID: p.RoomID, PeerID: p.PeerID, TransportID: p.TransportID}, true
	case "producerClosed":
		return ProducerClosed{RoomID: p.RoomID, PeerID: p.PeerID, ProducerID: p.ProducerID}, true
	case "consumerClosed":
		return ConsumerClosed{RoomID: p.RoomID, PeerID: p.PeerID, ConsumerID: p.ConsumerID}, true
	case "peerClosed":
		return PeerClosed{RoomID: p.RoomID, PeerID: p.PeerID}, true
	case "roomClosed":
		return RoomClosed{RoomID: p.RoomID}, true
	}
	return nil, false
}
