package media

import (
	"context"
	"encoding/json"
	"fmt"
)

type roomRef struct {
	RoomID string `json:"roomId"`
}

type peerRef struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

func (c *Client) CreateRoom(ctx context.Context, roomID string) error {
	_, err := c.request(ctx, "createRoom", roomRef{RoomID: roomID})
	return err
}

func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	_, err := c.request(ctx, "closeRoom", roomRef{RoomID: roomID})
	return err
}

func (c *Client) AddPeer(ctx context.Context, roomID, peerID string) error {
	_, err := c.request(ctx, "addPeer", peerRef{RoomID: roomID, PeerID: peerID})
	return err
}

func (c *Client) RemovePeer(ctx context.Context, roomID, peerID string) error {
	_, err := c.request(ctx, "removePeer", peerRef{RoomID: roomID, PeerID: peerID})
	return err
}

func (c *Client) CreateTransport(ctx context.Context, roomID, peerID, direction string) (*TransportInfo, error) {
	data, err := c.request(ctx, "createTransport", struct {
		RoomID    string `json:"roomId"`
		PeerID    string `json:"peerId"`
		Direction string `json:"direction"`
	}{roomID, peerID, direction})
	if err != nil {
		return nil, err
	}
	var info TransportInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode transport: %w", err)
	}
	return &info, nil
}

func (c *Client) ConnectTransport(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error {
	_, err := c.request(ctx, "connectTransport", struct {
		RoomID         string          `json:"roomId"`
		PeerID         string          `json:"peerId"`
		TransportID    string          `json:"transportId"`
		DTLSParameters json.RawMessage `json:"dtlsParameters"`
	}{roomID, peerID, transportID, dtlsParameters})
	return err
}

func (c *Client) CreateProducer(ctx context.Context, roomID, peerID, transportID, kind string, rtpParameters json.RawMessage) (string, error) {
	data, err := c.request(ctx, "createProducer", struct {
		RoomID        string          `json:"roomId"`
		PeerID        string          `json:"peerId"`
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}{roomID, peerID, transportID, kind, rtpParameters})
	if err != nil {
		return "", err
	}
	var resp struct {
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("media: decode producer: %w", err)
	}
	return resp.ProducerID, nil
}

func (c *Client) CreateConsumer(ctx context.Context, roomID, peerID, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error) {
	data, err := c.request(ctx, "createConsumer", struct {
		RoomID          string          `json:"roomId"`
		PeerID          string          `json:"peerId"`
		TransportID     string          `json:"transportId"`
		ProducerID      string          `json:"producerId"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}{roomID, peerID, transportID, producerID, rtpCapabilities})
	if err != nil {
		return nil, err
	}
	var info ConsumerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode consumer: %w", err)
	}
	return &info, nil
}

func (c *Client) CloseProducer(ctx context.Context, roomID, peerID, producerID string) error {
	_, err := c.request(ctx, "closeProducer", struct {
		RoomID     string `json:"roomId"`
		PeerID     string `json:"peerId"`
		ProducerID string `json:"producerId"`
	}{roomID, peerID, producerID})
	return err
}

func (c *Client) CloseConsumer(ctx context.Context, roomID, peerID, consumerID string) error {
	_, err := c.request(ctx, "closeConsumer", struct {
		RoomID     string `json:"roomId"`
		PeerID     string `json:"peerId"`
		ConsumerID string `json:"consumerId"`
	}{roomID, peerID, consumerID})
	return err
}

func (c *Client) RouterRTPCapabilities(ctx context.Context, roomID string) (json.RawMessage, error) {
	return c.request(ctx, "getRouterRtpCapabilities", roomRef{RoomID: roomID})
}

// RoomInfo returns the room, or (nil, nil) when the backend does not know it.
// Absence is a valid negative result, not an error.
func (c *Client) RoomInfo(ctx context.Context, roomID string) (*RoomInfo, error) {
	data, err := c.request(ctx, "getRoomInfo", roomRef{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var info RoomInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode room: %w", err)
	}
	return &info, nil
}

func (c *Client) AllRooms(ctx context.Context) ([]RoomInfo, error) {
	data, err := c.request(ctx, "getAllRooms", nil)
	if err != nil {
		return nil, err
	}
	var rooms []RoomInfo
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("media: decode rooms: %w", err)
	}
	return rooms, nil
}

// PeerInfo returns the peer, or (nil, nil) when it is not in the room.
func (c *Client) PeerInfo(ctx context.Context, roomID, peerID string) (*PeerInfo, error) {
	data, err := c.request(ctx, "getPeerInfo", peerRef{RoomID: roomID, PeerID: peerID})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var info PeerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode peer: %w", err)
	}
	return &info, nil
}

// TransportInfo returns the transport, or (nil, nil) when unknown.
func (c *Client) TransportInfo(ctx context.Context, roomID, transportID string) (*TransportInfo, error) {
	data, err := c.request(ctx, "getTransportInfo", struct {
		RoomID      string `json:"roomId"`
		TransportID string `json:"transportId"`
	}{roomID, transportID})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var info TransportInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode transport: %w", err)
	}
	return &info, nil
}

// ProducerInfo returns the producer, or (nil, nil) when unknown.
func (c *Client) ProducerInfo(ctx context.Context, roomID, producerID string) (*ProducerInfo, error) {
	data, err := c.request(ctx, "getProducerInfo", struct {
		RoomID     string `json:"roomId"`
		ProducerID string `json:"producerId"`
	}{roomID, producerID})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var info ProducerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode producer: %w", err)
	}
	return &info, nil
}

// ConsumerInfo returns the consumer, or (nil, nil) when unknown.
func (c *Client) ConsumerInfo(ctx context.Context, roomID, consumerID string) (*ConsumerInfo, error) {
	data, err := c.request(ctx, "getConsumerInfo", struct {
		RoomID     string `json:"roomId"`
		ConsumerID string `json:"consumerId"`
	}{roomID, consumerID})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var info ConsumerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("media: decode consumer: %w", err)
	}
	return &info, nil
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
