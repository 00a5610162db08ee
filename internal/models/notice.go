package models

// NoticeType enumerates the event-bus notices exchanged between gateway
// processes. The set is closed; bus subscribers match it exhaustively and
// drop anything else.
type NoticeType string

const (
	NoticeJoin           NoticeType = "join"
	NoticeLeave          NoticeType = "leave"
	NoticeProduce        NoticeType = "produce"
	NoticeProducerClosed NoticeType = "producerClosed"
	NoticeCallAccept     NoticeType = "callAccept"
	NoticeCallReject     NoticeType = "callReject"
	NoticeChat           NoticeType = "chat"
)

// Known reports whether t is part of the closed notice set.
func (t NoticeType) Known() bool {
	switch t {
	case NoticeJoin, NoticeLeave, NoticeProduce, NoticeProducerClosed,
		NoticeCallAccept, NoticeCallReject, NoticeChat:
		return true
	}
	return false
}

// Notice is one event-bus message. PeerID is the subject peer; UserID is set
// on call-accept/reject notices to address the initiating user; Token carries
// the initiator's call token on a local accept.
type Notice struct {
	Type       NoticeType `json:"type"`
	RoomID     string     `json:"roomId"`
	PeerID     string     `json:"peerId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	ProducerID string     `json:"producerId,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Token      string     `json:"token,omitempty"`
	Message    string     `json:"message,omitempty"`
	Sign       string     `json:"sign,omitempty"`
}
