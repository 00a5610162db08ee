package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/middleware"
	"github.com/mossy-p/call-gateway/internal/models"
)

func mintUserJWT(t *testing.T, userID string) string {
	claims := middleware.JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func postJSON(t *testing.T, url, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// noticeCapture records every notice published on a bus.
type noticeCapture struct {
	mu      sync.Mutex
	notices []models.Notice
}

func captureNotices(t *testing.T, h *gwHarness) *noticeCapture {
	c := &noticeCapture{}
	require.NoError(t, h.bus.Subscribe(context.Background(), func(n models.Notice) {
		c.mu.Lock()
		c.notices = append(c.notices, n)
		c.mu.Unlock()
	}))
	return c
}

func (c *noticeCapture) last(typ models.NoticeType) (models.Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.notices) - 1; i >= 0; i-- {
		if c.notices[i].Type == typ {
			return c.notices[i], true
		}
	}
	return models.Notice{}, false
}

func TestCallRoomIDIsDeterministicAndOrdered(t *testing.T) {
	assert.Equal(t, CallRoomID("alice", "bob"), CallRoomID("alice", "bob"))
	assert.NotEqual(t, CallRoomID("alice", "bob"), CallRoomID("bob", "alice"))
	assert.NotEqual(t, CallRoomID("alice", "bob"), CallRoomID("alice", "carol"))
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "beta.test", domainOf("bob@beta.test"))
	assert.Equal(t, "", domainOf("bob"))
	assert.Equal(t, "beta.test", domainOf("odd@name@beta.test"))
}

func TestLocalAcceptFlow(t *testing.T) {
	h := newGWHarness(t, "local.test")
	captured := captureNotices(t, h)

	resp, body := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "video",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["roomId"].(string)
	assert.Equal(t, CallRoomID("alice", "bob"), roomID)

	resp, body = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "bob"), map[string]any{
		"roomId": roomID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video", body["callKind"])
	calleeToken := body["token"].(string)
	require.NotEmpty(t, calleeToken)

	// The initiator's token rides the bus.
	notice, ok := captured.last(models.NoticeCallAccept)
	require.True(t, ok)
	assert.Equal(t, roomID, notice.RoomID)
	assert.Equal(t, "alice", notice.UserID)
	require.NotEmpty(t, notice.Token)
	assert.NotEqual(t, calleeToken, notice.Token)

	ctx := context.Background()
	callerTok, err := h.st.ConsumeToken(ctx, notice.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", callerTok.UserID)
	assert.Equal(t, models.RoleCaller, callerTok.Role)
	assert.Equal(t, models.CallKindVideo, callerTok.CallKind)

	calleeTok, err := h.st.ConsumeToken(ctx, calleeToken)
	require.NoError(t, err)
	assert.Equal(t, "bob", calleeTok.UserID)
	assert.Equal(t, models.RoleCallee, calleeTok.Role)
	assert.Equal(t, roomID, calleeTok.RoomID)
}

// TestHandshakeThenSignaling runs the whole local call path: request, accept,
// then both participants open their sockets with the minted tokens.
func TestHandshakeThenSignaling(t *testing.T) {
	h := newGWHarness(t, "local.test")
	captured := captureNotices(t, h)

	resp, body := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "video",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["roomId"].(string)

	resp, body = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "bob"), map[string]any{
		"roomId": roomID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bobToken := body["token"].(string)
	notice, ok := captured.last(models.NoticeCallAccept)
	require.True(t, ok)

	alice := h.dial(t, notice.Token)
	initA := alice.expect(models.FrameInit)
	assert.Equal(t, roomID, initA["roomId"])
	assert.Empty(t, initA["peers"])

	bob := h.dial(t, bobToken)
	initB := bob.expect(models.FrameInit)
	assert.Equal(t, []any{"alice"}, initB["peers"])
	assert.Empty(t, initB["producers"])

	joined := alice.expect(models.FrameJoin)
	assert.Equal(t, "bob", joined["peerId"])
}

func TestAcceptRestrictedToCallee(t *testing.T) {
	h := newGWHarness(t, "local.test")

	resp, body := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "audio",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["roomId"].(string)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "carol"), map[string]any{
		"roomId": roomID,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "bob"), map[string]any{
		"roomId": roomID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAcceptIsSingleShot(t *testing.T) {
	h := newGWHarness(t, "local.test")

	resp, body := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "audio",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["roomId"].(string)

	accept := map[string]any{"roomId": roomID}
	resp, _ = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "bob"), accept)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/accept", mintUserJWT(t, "bob"), accept)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/reject", mintUserJWT(t, "bob"), accept)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRejectFlow(t *testing.T) {
	h := newGWHarness(t, "local.test")
	captured := captureNotices(t, h)

	resp, body := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "video",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roomID := body["roomId"].(string)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/reject", mintUserJWT(t, "bob"), map[string]any{
		"roomId": roomID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	notice, ok := captured.last(models.NoticeCallReject)
	require.True(t, ok)
	assert.Equal(t, roomID, notice.RoomID)
	assert.Equal(t, "alice", notice.UserID)
	assert.Empty(t, notice.Token)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/reject", mintUserJWT(t, "bob"), map[string]any{
		"roomId": roomID,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestRequiresAuth(t *testing.T) {
	h := newGWHarness(t, "local.test")
	resp, _ := postJSON(t, h.srv.URL+"/api/calls/request", "", map[string]any{
		"calleeId": "bob",
		"callKind": "video",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestValidation(t *testing.T) {
	h := newGWHarness(t, "local.test")
	resp, _ := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "hologram",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"callKind": "video",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type denyChecker struct{}

func (denyChecker) Allowed(string, string) (bool, error) { return false, nil }

func TestRequestRequiresRelationship(t *testing.T) {
	h := newGWHarness(t, "local.test")
	h.calls.checker = denyChecker{}

	resp, _ := postJSON(t, h.srv.URL+"/api/calls/request", mintUserJWT(t, "alice"), map[string]any{
		"calleeId": "bob",
		"callKind": "video",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFederatedCallFlow(t *testing.T) {
	alpha := newGWHarness(t, "alpha.test")
	beta := newGWHarness(t, "beta.test")
	alpha.fed.Resolve = func(domain string) string { return beta.srv.URL }
	beta.fed.Resolve = func(domain string) string { return alpha.srv.URL }
	capturedAlpha := captureNotices(t, alpha)

	// The request goes out through alpha and lands in beta's store.
	resp, body := postJSON(t, alpha.srv.URL+"/api/calls/request",
		mintUserJWT(t, "alice@alpha.test"), map[string]any{
			"calleeId": "bob@beta.test",
			"callKind": "audio",
		})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	roomID := body["roomId"].(string)

	ctx := context.Background()
	stored, err := beta.st.GetRequest(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "alice@alpha.test", stored.InitiatorID)
	assert.Equal(t, "bob@beta.test", stored.CalleeID)

	// Nothing pending on alpha: the call is hosted by the callee's operator.
	_, err = alpha.st.GetRequest(ctx, roomID)
	assert.Error(t, err)

	// bob accepts at home; alice's token is relayed back to alpha's bus.
	resp, body = postJSON(t, beta.srv.URL+"/api/calls/accept",
		mintUserJWT(t, "bob@beta.test"), map[string]any{"roomId": roomID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["token"])

	notice, ok := capturedAlpha.last(models.NoticeCallAccept)
	require.True(t, ok)
	assert.Equal(t, roomID, notice.RoomID)
	assert.Equal(t, "alice@alpha.test", notice.UserID)
	require.NotEmpty(t, notice.Token)

	// Both participants signal against beta, so alice's token lives there.
	callerTok, err := beta.st.ConsumeToken(ctx, notice.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@alpha.test", callerTok.UserID)
	assert.Equal(t, models.RoleCaller, callerTok.Role)
}

func TestFederatedRejectFlow(t *testing.T) {
	alpha := newGWHarness(t, "alpha.test")
	beta := newGWHarness(t, "beta.test")
	alpha.fed.Resolve = func(domain string) string { return beta.srv.URL }
	beta.fed.Resolve = func(domain string) string { return alpha.srv.URL }
	capturedAlpha := captureNotices(t, alpha)

	resp, body := postJSON(t, alpha.srv.URL+"/api/calls/request",
		mintUserJWT(t, "alice@alpha.test"), map[string]any{
			"calleeId": "bob@beta.test",
			"callKind": "video",
		})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	roomID := body["roomId"].(string)

	resp, _ = postJSON(t, beta.srv.URL+"/api/calls/reject",
		mintUserJWT(t, "bob@beta.test"), map[string]any{"roomId": roomID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	notice, ok := capturedAlpha.last(models.NoticeCallReject)
	require.True(t, ok)
	assert.Equal(t, "alice@alpha.test", notice.UserID)
	assert.Empty(t, notice.Token)
}

func TestFederationEndpointsRequireSharedSecret(t *testing.T) {
	h := newGWHarness(t, "local.test")

	resp, _ := postJSON(t, h.srv.URL+"/federation/call/request", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"origin": "alpha.test",
		"exp":    time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("the-wrong-secret"))
	require.NoError(t, err)
	resp, _ = postJSON(t, h.srv.URL+"/federation/call/request", bad, map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFederatedRequestRejectsForeignCallee(t *testing.T) {
	beta := newGWHarness(t, "beta.test")
	fed := NewFederationClient("alpha.test", testFedSecret, time.Second, zap.NewNop())
	fed.Resolve = func(string) string { return beta.srv.URL }

	err := fed.SendRequest(context.Background(), "beta.test", &models.CallRequest{
		RoomID:      "room-x",
		InitiatorID: "alice@alpha.test",
		CalleeID:    "carol@gamma.test",
		CallKind:    models.CallKindAudio,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
