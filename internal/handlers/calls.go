package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/bus"
	"github.com/mossy-p/call-gateway/internal/models"
	"github.com/mossy-p/call-gateway/internal/store"
)

// callRoomNamespace seeds the deterministic room id derived from the ordered
// (initiator, callee) pair.
var callRoomNamespace = uuid.MustParse("8f3b9a52-41de-4cb2-9d11-6f2f6f0e7a31")

// CallRoomID derives the room id for a call between two users. The pair is
// ordered, so A calling B and B calling A are distinct requests.
func CallRoomID(initiatorID, calleeID string) string {
	return uuid.NewSHA1(callRoomNamespace, []byte(initiatorID+"|"+calleeID)).String()
}

// RelationshipChecker verifies that two users are allowed to call each other
// (friendship or shared group membership). The concrete check lives outside
// this service.
type RelationshipChecker interface {
	Allowed(initiatorID, calleeID string) (bool, error)
}

type allowAll struct{}

func (allowAll) Allowed(string, string) (bool, error) { return true, nil }

// Calls implements the pre-call handshake: request, accept, reject, each
// with a local and a federated delivery path.
type Calls struct {
	store   store.CallStore
	bus     bus.Bus
	fed     *FederationClient
	checker RelationshipChecker
	domain  string
	log     *zap.Logger
}

func NewCalls(st store.CallStore, b bus.Bus, fed *FederationClient, checker RelationshipChecker, domain string, log *zap.Logger) *Calls {
	if checker == nil {
		checker = allowAll{}
	}
	return &Calls{store: st, bus: b, fed: fed, checker: checker, domain: domain, log: log}
}

// domainOf extracts the operator domain from a user id of the form
// "name@domain"; a bare id is local.
func domainOf(userID string) string {
	if i := strings.LastIndex(userID, "@"); i >= 0 {
		return userID[i+1:]
	}
	return ""
}

func (h *Calls) isRemote(userID string) bool {
	d := domainOf(userID)
	return d != "" && d != h.domain
}

type callRequestBody struct {
	CalleeID    string          `json:"calleeId" binding:"required"`
	CallKind    models.CallKind `json:"callKind" binding:"required,oneof=audio video text"`
	IsEncrypted bool            `json:"isEncrypted"`
	RoomKeyHash string          `json:"roomKeyHash"`
	SessionHint string          `json:"sessionHint"`
}

// Request creates a pending call request, delivered to the callee's operator
// when that operator is not us.
func (h *Calls) Request(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var body callRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.checker.Allowed(userID, body.CalleeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "relationship check failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "users are not connected"})
		return
	}

	req := &models.CallRequest{
		RoomID:            CallRoomID(userID, body.CalleeID),
		InitiatorID:       userID,
		CalleeID:          body.CalleeID,
		CallKind:          body.CallKind,
		IsEncrypted:       body.IsEncrypted,
		RoomKeyHash:       body.RoomKeyHash,
		CallerSessionHint: body.SessionHint,
		CreatedAt:         time.Now(),
	}

	if h.isRemote(body.CalleeID) {
		if err := h.fed.SendRequest(c.Request.Context(), domainOf(body.CalleeID), req); err != nil {
			h.log.Warn("federated call request failed",
				zap.String("calleeDomain", domainOf(body.CalleeID)), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to deliver call request"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"roomId": req.RoomID})
		return
	}

	if err := h.store.CreateRequest(c.Request.Context(), req); err != nil {
		h.log.Error("store call request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create call request"})
		return
	}

	h.log.Info("call requested",
		zap.String("roomId", req.RoomID),
		zap.String("initiatorId", userID),
		zap.String("calleeId", body.CalleeID),
		zap.String("callKind", string(body.CallKind)))
	c.JSON(http.StatusCreated, gin.H{"roomId": req.RoomID})
}

type callResolveBody struct {
	RoomID string `json:"roomId" binding:"required"`
}

// Accept resolves a pending request: it mints one token per participant,
// hands the callee's back in the response and routes the initiator's token
// locally via the bus or across operators via federation. A second accept
// finds no request and fails closed.
func (h *Calls) Accept(c *gin.Context) {
	userID := c.GetString("user_id")
	var body callResolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	req, err := h.store.GetRequest(ctx, body.RoomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call request not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call request"})
		return
	}
	if req.CalleeID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the callee can accept"})
		return
	}

	// Delete-before-mint: losing this race means someone else resolved the
	// request first, and no second token pair may exist.
	if err := h.store.DeleteRequest(ctx, body.RoomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call request not found"})
		return
	}

	callerToken := &models.CallToken{
		Token:           uuid.New().String(),
		RoomID:          req.RoomID,
		UserID:          req.InitiatorID,
		CallKind:        req.CallKind,
		Role:            models.RoleCaller,
		ParticipantKind: models.ParticipantFriend,
	}
	calleeToken := &models.CallToken{
		Token:           uuid.New().String(),
		RoomID:          req.RoomID,
		UserID:          req.CalleeID,
		CallKind:        req.CallKind,
		Role:            models.RoleCallee,
		ParticipantKind: models.ParticipantFriend,
	}
	if err := h.store.SaveTokens(ctx, callerToken, calleeToken); err != nil {
		h.log.Error("save tokens failed", zap.String("roomId", req.RoomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint call tokens"})
		return
	}

	if h.isRemote(req.InitiatorID) {
		err = h.fed.SendAccept(ctx, domainOf(req.InitiatorID), &FederatedAccept{
			RoomID:      req.RoomID,
			InitiatorID: req.InitiatorID,
			Token:       callerToken.Token,
			CallKind:    req.CallKind,
		})
	} else {
		err = h.bus.Publish(ctx, models.Notice{
			Type:   models.NoticeCallAccept,
			RoomID: req.RoomID,
			UserID: req.InitiatorID,
			Token:  callerToken.Token,
		})
	}
	if err != nil {
		h.log.Warn("accept notification failed", zap.String("roomId", req.RoomID), zap.Error(err))
	}

	h.log.Info("call accepted",
		zap.String("roomId", req.RoomID),
		zap.String("calleeId", userID))
	c.JSON(http.StatusOK, gin.H{
		"roomId":   req.RoomID,
		"token":    calleeToken.Token,
		"callKind": req.CallKind,
	})
}

// Reject deletes the pending request and notifies the initiator, carrying no
// token. Like Accept, a second reject fails closed.
func (h *Calls) Reject(c *gin.Context) {
	userID := c.GetString("user_id")
	var body callResolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	req, err := h.store.GetRequest(ctx, body.RoomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call request not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call request"})
		return
	}
	if req.CalleeID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the callee can reject"})
		return
	}
	if err := h.store.DeleteRequest(ctx, body.RoomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call request not found"})
		return
	}

	if h.isRemote(req.InitiatorID) {
		err = h.fed.SendReject(ctx, domainOf(req.InitiatorID), &FederatedReject{
			RoomID:      req.RoomID,
			InitiatorID: req.InitiatorID,
		})
	} else {
		err = h.bus.Publish(ctx, models.Notice{
			Type:   models.NoticeCallReject,
			RoomID: req.RoomID,
			UserID: req.InitiatorID,
		})
	}
	if err != nil {
		h.log.Warn("reject notification failed", zap.String("roomId", req.RoomID), zap.Error(err))
	}

	h.log.Info("call rejected",
		zap.String("roomId", req.RoomID),
		zap.String("calleeId", userID))
	c.JSON(http.StatusOK, gin.H{"roomId": req.RoomID})
}
