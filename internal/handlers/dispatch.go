package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/models"
	"github.com/mossy-p/call-gateway/internal/session"
)

type frameHandler func(c *client, s *session.Session, raw []byte)

// dispatch validates and routes one inbound frame. Validation failures are
// answered with an error frame and mutate nothing; an unknown session drops
// the frame, since a close may already be racing it.
func (g *Gateway) dispatch(c *client, raw []byte) {
	var env models.ClientFrame
	if err := json.Unmarshal(raw, &env); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "malformed message", Details: err.Error()})
		return
	}

	s, ok := g.registry.GetActive(c.key)
	if !ok {
		// A close or eviction may be racing this frame; drop it, but leave
		// a trace.
		g.log.Debug("frame for inactive session dropped",
			zap.String("sessionKey", c.key),
			zap.String("frameType", string(env.Type)))
		return
	}

	h, ok := g.frameHandlers[env.Type]
	if !ok {
		c.Send(models.ErrorFrame{
			Type:    models.FrameError,
			Message: fmt.Sprintf("unknown message type %q", env.Type),
		})
		return
	}
	h(c, s, raw)
}

// decodePayload unmarshals the frame into the typed payload and runs the
// binding validators on it.
func decodePayload(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(out)
}

func (g *Gateway) handleConnect(c *client, s *session.Session, raw []byte) {
	var p models.ConnectPayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid connect message", Details: err.Error()})
		return
	}

	transportID := s.SendTransportID
	if p.TransportType == "recv" {
		transportID = s.RecvTransportID
	}
	if transportID == "" {
		c.Send(models.ErrorFrame{
			Type:    models.FrameError,
			Message: fmt.Sprintf("no %s transport for this call", p.TransportType),
		})
		return
	}

	if err := g.media.ConnectTransport(context.Background(), s.RoomID, s.PeerID, transportID, p.DTLSParameters); err != nil {
		c.Send(models.ErrorFrame{
			Type:    models.FrameError,
			Message: fmt.Sprintf("connect %s transport failed", p.TransportType),
			Details: err.Error(),
		})
		return
	}
	c.Send(models.ConnectedFrame{Type: models.FrameConnected, TransportType: p.TransportType})
}

func (g *Gateway) handleProduce(c *client, s *session.Session, raw []byte) {
	var p models.ProducePayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid produce message", Details: err.Error()})
		return
	}
	if s.SendTransportID == "" {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "no send transport for this call"})
		return
	}

	// Claim the kind slot before touching the backend so a concurrent
	// produce of the same kind cannot sneak in mid-flight.
	if !g.registry.ReserveProducer(c.key, p.Kind) {
		c.Send(models.EventFrame{Type: models.FrameProducerAlreadyExists, Kind: p.Kind})
		return
	}

	ctx := context.Background()
	producerID, err := g.media.CreateProducer(ctx, s.RoomID, s.PeerID, s.SendTransportID, p.Kind, p.RTPParameters)
	if err != nil {
		g.registry.ClearProducer(c.key, p.Kind)
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "produce failed", Details: err.Error()})
		return
	}
	g.registry.SetProducer(c.key, p.Kind, producerID)

	c.Send(models.ProducedFrame{Type: models.FrameProduced, ProducerID: producerID, Kind: p.Kind})

	if err := g.bus.Publish(ctx, models.Notice{
		Type:       models.NoticeProduce,
		RoomID:     s.RoomID,
		PeerID:     s.PeerID,
		ProducerID: producerID,
		Kind:       p.Kind,
	}); err != nil {
		g.log.Warn("publish produce notice failed", zap.Error(err))
	}
}

func (g *Gateway) handleConsume(c *client, s *session.Session, raw []byte) {
	var p models.ConsumePayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid consume message", Details: err.Error()})
		return
	}
	if p.PeerID == s.PeerID {
		c.Send(models.EventFrame{Type: models.FrameSelfProducer, ProducerID: p.ProducerID})
		return
	}
	if s.RecvTransportID == "" {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "no recv transport for this call"})
		return
	}

	ctx := context.Background()
	info, err := g.media.ProducerInfo(ctx, s.RoomID, p.ProducerID)
	if err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "consume failed", Details: err.Error()})
		return
	}
	if info == nil {
		c.Send(models.EventFrame{Type: models.FrameProducerNotFound, ProducerID: p.ProducerID})
		return
	}
	// Ownership per the backend is authoritative, not the peer id the
	// client claims.
	if info.PeerID == s.PeerID {
		c.Send(models.EventFrame{Type: models.FrameSelfProducer, ProducerID: p.ProducerID})
		return
	}

	consumer, err := g.media.CreateConsumer(ctx, s.RoomID, s.PeerID, s.RecvTransportID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		// The producing peer may have left between the check and the create.
		c.Send(models.EventFrame{Type: models.FrameProducerNotFound, ProducerID: p.ProducerID})
		return
	}
	c.Send(models.ConsumedFrame{
		Type:          models.FrameConsumed,
		ConsumerID:    consumer.ConsumerID,
		ProducerID:    p.ProducerID,
		Kind:          consumer.Kind,
		RTPParameters: consumer.RTPParameters,
		PeerID:        info.PeerID,
	})
}

func (g *Gateway) handleCloseProducer(c *client, s *session.Session, raw []byte) {
	var p models.CloseProducerPayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid closeProducer message", Details: err.Error()})
		return
	}

	ctx := context.Background()
	if err := g.media.CloseProducer(ctx, s.RoomID, s.PeerID, p.ProducerID); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "closeProducer failed", Details: err.Error()})
		return
	}
	g.registry.ClearProducerByID(c.key, p.ProducerID)

	if err := g.bus.Publish(ctx, models.Notice{
		Type:       models.NoticeProducerClosed,
		RoomID:     s.RoomID,
		PeerID:     s.PeerID,
		ProducerID: p.ProducerID,
	}); err != nil {
		g.log.Warn("publish producerClosed notice failed", zap.Error(err))
	}
}

func (g *Gateway) handleCloseConsumer(c *client, s *session.Session, raw []byte) {
	var p models.CloseConsumerPayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid closeConsumer message", Details: err.Error()})
		return
	}
	if err := g.media.CloseConsumer(context.Background(), s.RoomID, s.PeerID, p.ConsumerID); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "closeConsumer failed", Details: err.Error()})
	}
}

func (g *Gateway) handleChat(c *client, s *session.Session, raw []byte) {
	var p models.ChatPayload
	if err := decodePayload(raw, &p); err != nil {
		c.Send(models.ErrorFrame{Type: models.FrameError, Message: "invalid chat message", Details: err.Error()})
		return
	}
	if err := g.bus.Publish(context.Background(), models.Notice{
		Type:    models.NoticeChat,
		RoomID:  s.RoomID,
		PeerID:  s.PeerID,
		Message: p.Message,
		Sign:    p.Sign,
	}); err != nil {
		g.log.Warn("publish chat notice failed", zap.Error(err))
	}
}

func (g *Gateway) handleBye(c *client, s *session.Session, raw []byte) {
	c.Close()
}
