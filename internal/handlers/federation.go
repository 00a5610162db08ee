package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/models"
)

// FederatedAccept is the payload delivered to the initiator's operator when
// the callee accepts; it carries the initiator's freshly minted token.
type FederatedAccept struct {
	RoomID      string          `json:"roomId" binding:"required"`
	InitiatorID string          `json:"initiatorId" binding:"required"`
	Token       string          `json:"token" binding:"required"`
	CallKind    models.CallKind `json:"callKind"`
}

// FederatedReject is the payload delivered to the initiator's operator on
// rejection; it carries no token.
type FederatedReject struct {
	RoomID      string `json:"roomId" binding:"required"`
	InitiatorID string `json:"initiatorId" binding:"required"`
}

// FederationClient delivers handshake envelopes to a remote operator's
// federation endpoints, authenticated with a shared-secret JWT.
type FederationClient struct {
	origin string
	secret string
	httpc  *http.Client
	log    *zap.Logger

	// Resolve maps an operator domain to its base URL. Tests override it to
	// point at local servers.
	Resolve func(domain string) string
}

func NewFederationClient(origin, secret string, timeout time.Duration, log *zap.Logger) *FederationClient {
	return &FederationClient{
		origin: origin,
		secret: secret,
		httpc:  &http.Client{Timeout: timeout},
		log:    log,
		Resolve: func(domain string) string {
			return "https://" + domain
		},
	}
}

func (f *FederationClient) SendRequest(ctx context.Context, domain string, req *models.CallRequest) error {
	return f.post(ctx, domain, "/federation/call/request", req)
}

func (f *FederationClient) SendAccept(ctx context.Context, domain string, acc *FederatedAccept) error {
	return f.post(ctx, domain, "/federation/call/accept", acc)
}

func (f *FederationClient) SendReject(ctx context.Context, domain string, rej *FederatedReject) error {
	return f.post(ctx, domain, "/federation/call/reject", rej)
}

func (f *FederationClient) post(ctx context.Context, domain, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("federation: marshal payload: %w", err)
	}

	token, err := f.sign()
	if err != nil {
		return fmt.Errorf("federation: sign token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Resolve(domain)+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("federation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("federation: %s %s: %w", path, domain, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("federation: %s %s: status %d", path, domain, resp.StatusCode)
	}
	return nil
}

func (f *FederationClient) sign() (string, error) {
	claims := jwt.MapClaims{
		"origin": f.origin,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(f.secret))
}

// FederatedRequest stores a call request delivered by a remote operator; the
// callee is local by construction.
func (h *Calls) FederatedRequest(c *gin.Context) {
	var req models.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RoomID == "" || req.InitiatorID == "" || req.CalleeID == "" || !req.CallKind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call request"})
		return
	}
	if h.isRemote(req.CalleeID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callee is not served here"})
		return
	}
	req.CreatedAt = time.Now()

	if err := h.store.CreateRequest(c.Request.Context(), &req); err != nil {
		h.log.Error("store federated call request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create call request"})
		return
	}

	h.log.Info("federated call requested",
		zap.String("roomId", req.RoomID),
		zap.String("origin", c.GetString("origin")),
		zap.String("calleeId", req.CalleeID))
	c.JSON(http.StatusCreated, gin.H{"roomId": req.RoomID})
}

// FederatedAcceptNotice hands an initiator its token after a remote callee
// accepted, by re-emitting the accept on the local bus.
func (h *Calls) FederatedAcceptNotice(c *gin.Context) {
	var acc FederatedAccept
	if err := c.ShouldBindJSON(&acc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.bus.Publish(c.Request.Context(), models.Notice{
		Type:   models.NoticeCallAccept,
		RoomID: acc.RoomID,
		UserID: acc.InitiatorID,
		Token:  acc.Token,
	}); err != nil {
		h.log.Warn("publish federated accept failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to relay accept"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": acc.RoomID})
}

// FederatedRejectNotice relays a remote rejection to the local initiator.
func (h *Calls) FederatedRejectNotice(c *gin.Context) {
	var rej FederatedReject
	if err := c.ShouldBindJSON(&rej); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.bus.Publish(c.Request.Context(), models.Notice{
		Type:   models.NoticeCallReject,
		RoomID: rej.RoomID,
		UserID: rej.InitiatorID,
	}); err != nil {
		h.log.Warn("publish federated reject failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to relay reject"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": rej.RoomID})
}
