// Package store persists call requests and tokens. The gateway only needs
// find/create/delete semantics; requests expire via the store's TTL and
// tokens are consumed atomically on first use.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/call-gateway/internal/models"
)

// ErrNotFound is returned when a request or token does not exist (or was
// already consumed).
var ErrNotFound = errors.New("store: not found")

type CallStore interface {
	// CreateRequest stores a pending call request under its room id. The
	// record expires automatically after the store's request TTL.
	CreateRequest(ctx context.Context, req *models.CallRequest) error

	// GetRequest returns the pending request for a room, or ErrNotFound.
	GetRequest(ctx context.Context, roomID string) (*models.CallRequest, error)

	// DeleteRequest removes the pending request. It returns ErrNotFound when
	// the request was already resolved, which is how a second accept/reject
	// fails closed.
	DeleteRequest(ctx context.Context, roomID string) error

	// SaveTokens stores the minted token pair.
	SaveTokens(ctx context.Context, tokens ...*models.CallToken) error

	// ConsumeToken atomically fetches and deletes a token. A second call for
	// the same token returns ErrNotFound, making tokens single-use.
	ConsumeToken(ctx context.Context, token string) (*models.CallToken, error)
}
