package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/bus"
	"github.com/mossy-p/call-gateway/internal/media"
	"github.com/mossy-p/call-gateway/internal/models"
	"github.com/mossy-p/call-gateway/internal/session"
	"github.com/mossy-p/call-gateway/internal/store"
)

// MediaControl is the slice of the control client the gateway depends on.
type MediaControl interface {
	CreateRoom(ctx context.Context, roomID string) error
	CloseRoom(ctx context.Context, roomID string) error
	AddPeer(ctx context.Context, roomID, peerID string) error
	RemovePeer(ctx context.Context, roomID, peerID string) error
	CreateTransport(ctx context.Context, roomID, peerID, direction string) (*media.TransportInfo, error)
	ConnectTransport(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error
	CreateProducer(ctx context.Context, roomID, peerID, transportID, kind string, rtpParameters json.RawMessage) (string, error)
	CreateConsumer(ctx context.Context, roomID, peerID, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumerInfo, error)
	CloseProducer(ctx context.Context, roomID, peerID, producerID string) error
	CloseConsumer(ctx context.Context, roomID, peerID, consumerID string) error
	RouterRTPCapabilities(ctx context.Context, roomID string) (json.RawMessage, error)
	RoomInfo(ctx context.Context, roomID string) (*media.RoomInfo, error)
	PeerInfo(ctx context.Context, roomID, peerID string) (*media.PeerInfo, error)
	ProducerInfo(ctx context.Context, roomID, producerID string) (*media.ProducerInfo, error)
	Events() <-chan media.Event
}

// Gateway terminates participant WebSocket connections and drives the
// room/peer/transport lifecycle on their behalf.
type Gateway struct {
	registry *session.Registry
	media    MediaControl
	store    store.CallStore
	bus      bus.Bus
	log      *zap.Logger
	upgrader websocket.Upgrader

	frameHandlers map[models.FrameType]frameHandler
}

func NewGateway(registry *session.Registry, mc MediaControl, st store.CallStore, b bus.Bus, log *zap.Logger) *Gateway {
	g := &Gateway{
		registry: registry,
		media:    mc,
		store:    st,
		bus:      b,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware.
				return true
			},
		},
	}
	g.frameHandlers = map[models.FrameType]frameHandler{
		models.FrameConnect:       g.handleConnect,
		models.FrameProduce:       g.handleProduce,
		models.FrameConsume:       g.handleConsume,
		models.FrameCloseProducer: g.handleCloseProducer,
		models.FrameCloseConsumer: g.handleCloseConsumer,
		models.FrameChat:          g.handleChat,
		models.FrameBye:           g.handleBye,
	}
	return g
}

// HandleSignaling upgrades a participant connection. The call token is
// consumed before the upgrade, so a missing or replayed token is rejected
// without ever creating session state.
func (g *Gateway) HandleSignaling(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}

	tok, err := g.store.ConsumeToken(c.Request.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err != nil {
		g.log.Error("token lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	g.join(conn, tok)
}

// join runs the join sequence. Any failure before the session becomes active
// closes the connection without an error frame.
func (g *Gateway) join(conn *websocket.Conn, tok *models.CallToken) {
	ctx := context.Background()
	state := session.StateTokenValid

	// Claim the (room, user) slot before touching the backend. Evicting any
	// prior session here means its disconnect cleanup can no longer find its
	// key, so it cannot remove the backend peer this join is about to create.
	cl := newClient(conn, g)
	s := &session.Session{
		UserID:          tok.UserID,
		RoomID:          tok.RoomID,
		PeerID:          tok.UserID,
		CallKind:        tok.CallKind,
		ParticipantKind: tok.ParticipantKind,
		State:           session.StateTokenValid,
		Conn:            cl,
	}
	g.registry.Register(s)
	cl.key = s.Key
	cl.peerID = s.PeerID
	cl.roomID = s.RoomID

	peerAdded := false
	fail := func(err error) {
		g.log.Warn("join failed",
			zap.String("state", state.String()),
			zap.String("roomId", tok.RoomID),
			zap.String("userId", tok.UserID),
			zap.Error(err))
		g.registry.Remove(s.Key)
		if peerAdded {
			if err := g.media.RemovePeer(ctx, tok.RoomID, tok.UserID); err != nil {
				g.log.Warn("join cleanup: peer removal failed",
					zap.String("roomId", tok.RoomID), zap.Error(err))
			}
		}
		conn.Close()
	}

	// Room materialization: reuse if present, create if absent.
	room, err := g.media.RoomInfo(ctx, tok.RoomID)
	if err != nil {
		fail(err)
		return
	}
	if room == nil {
		if err := g.media.CreateRoom(ctx, tok.RoomID); err != nil {
			fail(err)
			return
		}
		g.log.Info("room created", zap.String("roomId", tok.RoomID))
	}
	state = session.StateRoomReady

	// Stale-peer eviction: a backend peer under the same user id means a
	// prior session did not clean up. Removal is best-effort; the local
	// duplicate, if any, is evicted at registration time below.
	stale, err := g.media.PeerInfo(ctx, tok.RoomID, tok.UserID)
	if err != nil {
		g.log.Warn("stale peer lookup failed", zap.String("roomId", tok.RoomID), zap.Error(err))
	} else if stale != nil {
		if err := g.media.RemovePeer(ctx, tok.RoomID, tok.UserID); err != nil {
			g.log.Warn("stale peer removal failed",
				zap.String("roomId", tok.RoomID),
				zap.String("userId", tok.UserID),
				zap.Error(err))
		}
	}

	if err := g.media.AddPeer(ctx, tok.RoomID, tok.UserID); err != nil {
		fail(err)
		return
	}
	peerAdded = true
	state = session.StatePeerReady

	var routerCaps json.RawMessage
	var transports *models.TransportPair
	if tok.CallKind.NeedsMedia() {
		routerCaps, err = g.media.RouterRTPCapabilities(ctx, tok.RoomID)
		if err != nil {
			fail(err)
			return
		}
		sendT, err := g.media.CreateTransport(ctx, tok.RoomID, tok.UserID, "send")
		if err != nil {
			fail(err)
			return
		}
		recvT, err := g.media.CreateTransport(ctx, tok.RoomID, tok.UserID, "recv")
		if err != nil {
			fail(err)
			return
		}
		g.registry.SetTransports(s.Key, sendT.TransportID, recvT.TransportID)
		sendRaw, _ := json.Marshal(sendT)
		recvRaw, _ := json.Marshal(recvT)
		transports = &models.TransportPair{Send: sendRaw, Recv: recvRaw}
		state = session.StateTransportsReady
	}

	// Enumerate the room as it stands so the client can start consuming.
	peers := []string{}
	producers := []models.ProducerSummary{}
	fresh, err := g.media.RoomInfo(ctx, tok.RoomID)
	if err != nil {
		fail(err)
		return
	}
	if fresh != nil {
		for _, p := range fresh.Peers {
			if p.PeerID == tok.UserID {
				continue
			}
			peers = append(peers, p.PeerID)
			for _, pr := range p.Producers {
				producers = append(producers, models.ProducerSummary{
					ProducerID: pr.ProducerID,
					PeerID:     p.PeerID,
					Kind:       pr.Kind,
				})
			}
		}
	}

	// A rival join for the same (room, user) may have evicted this session
	// while the backend calls above were in flight.
	if !g.registry.Activate(s.Key) {
		g.log.Info("join lost to a newer session",
			zap.String("roomId", tok.RoomID),
			zap.String("userId", tok.UserID))
		conn.Close()
		return
	}

	cl.Send(models.InitFrame{
		Type:                  models.FrameInit,
		RoomID:                tok.RoomID,
		Peers:                 peers,
		CallType:              tok.CallKind,
		MyPeerID:              tok.UserID,
		RouterRTPCapabilities: routerCaps,
		Transport:             transports,
		Producers:             producers,
	})

	go cl.writePump()
	go cl.readPump()

	if err := g.bus.Publish(ctx, models.Notice{
		Type:   models.NoticeJoin,
		RoomID: tok.RoomID,
		PeerID: tok.UserID,
	}); err != nil {
		g.log.Warn("publish join notice failed", zap.Error(err))
	}

	g.log.Info("peer joined",
		zap.String("roomId", tok.RoomID),
		zap.String("peerId", tok.UserID),
		zap.String("callKind", string(tok.CallKind)))
}

// handleDisconnect reclaims the session when the socket goes away. Cleanup
// is best-effort: backend failures are logged, never re-raised, so a
// disconnect always removes the local session.
func (g *Gateway) handleDisconnect(c *client) {
	c.Close()
	s, ok := g.registry.Remove(c.key)
	if !ok {
		// Already removed by eviction or a backend transportClosed event.
		return
	}

	ctx := context.Background()
	if err := g.media.RemovePeer(ctx, s.RoomID, s.PeerID); err != nil {
		g.log.Warn("disconnect: peer removal failed",
			zap.String("roomId", s.RoomID),
			zap.String("peerId", s.PeerID),
			zap.Error(err))
	}
	if room, err := g.media.RoomInfo(ctx, s.RoomID); err == nil && room != nil && len(room.Peers) == 0 {
		if err := g.media.CloseRoom(ctx, s.RoomID); err != nil {
			g.log.Warn("disconnect: room close failed", zap.String("roomId", s.RoomID), zap.Error(err))
		} else {
			g.log.Info("room closed", zap.String("roomId", s.RoomID))
		}
	}

	if err := g.bus.Publish(ctx, models.Notice{
		Type:   models.NoticeLeave,
		RoomID: s.RoomID,
		PeerID: s.PeerID,
	}); err != nil {
		g.log.Warn("publish leave notice failed", zap.Error(err))
	}

	g.log.Info("peer left",
		zap.String("roomId", s.RoomID),
		zap.String("peerId", s.PeerID))
}

// HandleNotice re-emits event-bus notices into local dispatch, fanning each
// one out to the co-located sessions it concerns. Frames are idempotent from
// the receiver's perspective, so duplicate delivery is harmless.
func (g *Gateway) HandleNotice(n models.Notice) {
	switch n.Type {
	case models.NoticeJoin:
		g.broadcast(n.RoomID, n.PeerID, models.EventFrame{
			Type: models.FrameJoin, RoomID: n.RoomID, PeerID: n.PeerID,
		})
	case models.NoticeLeave:
		g.broadcast(n.RoomID, n.PeerID, models.EventFrame{
			Type: models.FrameLeave, RoomID: n.RoomID, PeerID: n.PeerID,
		})
	case models.NoticeProduce:
		g.broadcast(n.RoomID, n.PeerID, models.EventFrame{
			Type: models.FrameProduce, RoomID: n.RoomID, PeerID: n.PeerID,
			ProducerID: n.ProducerID, Kind: n.Kind,
		})
	case models.NoticeProducerClosed:
		g.broadcast(n.RoomID, n.PeerID, models.EventFrame{
			Type: models.FrameProducerClosed, RoomID: n.RoomID, PeerID: n.PeerID,
			ProducerID: n.ProducerID,
		})
	case models.NoticeChat:
		g.broadcast(n.RoomID, n.PeerID, models.EventFrame{
			Type: models.FrameChat, RoomID: n.RoomID, PeerID: n.PeerID,
			Message: n.Message, Sign: n.Sign,
		})
	case models.NoticeCallAccept:
		g.notifyUser(n.UserID, models.EventFrame{
			Type: models.FrameCallAccepted, RoomID: n.RoomID, Token: n.Token,
		})
	case models.NoticeCallReject:
		g.notifyUser(n.UserID, models.EventFrame{
			Type: models.FrameCallRejected, RoomID: n.RoomID,
		})
	}
}

func (g *Gateway) broadcast(roomID, excludePeerID string, frame any) {
	for _, s := range g.registry.ForRoom(roomID) {
		if s.PeerID == excludePeerID {
			continue
		}
		s.Conn.Send(frame)
	}
}

func (g *Gateway) notifyUser(userID string, frame any) {
	for _, s := range g.registry.ForUser(userID) {
		s.Conn.Send(frame)
	}
}

// RunEvents consumes backend push events until ctx is done.
func (g *Gateway) RunEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.media.Events():
			if !ok {
				return
			}
			g.handleMediaEvent(ev)
		}
	}
}

func (g *Gateway) handleMediaEvent(ev media.Event) {
	ctx := context.Background()
	switch ev := ev.(type) {
	case media.TransportClosed:
		// Implicit disconnect: the media layer gave up on this peer.
		s, ok := g.registry.ByTransport(ev.TransportID)
		if !ok {
			return
		}
		if _, ok := g.registry.Remove(s.Key); !ok {
			return
		}
		if err := g.bus.Publish(ctx, models.Notice{
			Type:   models.NoticeLeave,
			RoomID: s.RoomID,
			PeerID: s.PeerID,
		}); err != nil {
			g.log.Warn("publish leave notice failed", zap.Error(err))
		}
		s.Conn.Close()
		g.log.Info("session reclaimed on transport close",
			zap.String("roomId", s.RoomID),
			zap.String("peerId", s.PeerID),
			zap.String("transportId", ev.TransportID))

	case media.ProducerClosed:
		if s, ok := g.sessionByPeer(ev.RoomID, ev.PeerID); ok {
			g.registry.ClearProducerByID(s.Key, ev.ProducerID)
		}
		g.broadcast(ev.RoomID, ev.PeerID, models.EventFrame{
			Type: models.FrameProducerClosed, RoomID: ev.RoomID,
			PeerID: ev.PeerID, ProducerID: ev.ProducerID,
		})

	case media.ConsumerClosed:
		if s, ok := g.sessionByPeer(ev.RoomID, ev.PeerID); ok {
			s.Conn.Send(models.EventFrame{
				Type: models.FrameConsumerClosed, RoomID: ev.RoomID,
				ConsumerID: ev.ConsumerID,
			})
		}

	case media.PeerClosed:
		s, ok := g.sessionByPeer(ev.RoomID, ev.PeerID)
		if !ok {
			return
		}
		if _, ok := g.registry.Remove(s.Key); !ok {
			return
		}
		if err := g.bus.Publish(ctx, models.Notice{
			Type:   models.NoticeLeave,
			RoomID: s.RoomID,
			PeerID: s.PeerID,
		}); err != nil {
			g.log.Warn("publish leave notice failed", zap.Error(err))
		}
		s.Conn.Close()

	case media.RoomClosed:
		for _, s := range g.registry.ForRoom(ev.RoomID) {
			if _, ok := g.registry.Remove(s.Key); ok {
				s.Conn.Close()
			}
		}
		g.log.Info("room closed by backend", zap.String("roomId", ev.RoomID))
	}
}

func (g *Gateway) sessionByPeer(roomID, peerID string) (*session.Session, bool) {
	for _, s := range g.registry.ForRoom(roomID) {
		if s.PeerID == peerID {
			return s, true
		}
	}
	return nil, false
}
