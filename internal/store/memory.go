package store

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/call-gateway/internal/models"
)

// Memory is an in-process CallStore used in tests and single-node
// development setups. Request expiry is checked lazily on read.
type Memory struct {
	mu         sync.Mutex
	requests   map[string]memoryRequest
	tokens     map[string]*models.CallToken
	requestTTL time.Duration
}

type memoryRequest struct {
	req       *models.CallRequest
	expiresAt time.Time
}

func NewMemory(requestTTL time.Duration) *Memory {
	return &Memory{
		requests:   make(map[string]memoryRequest),
		tokens:     make(map[string]*models.CallToken),
		requestTTL: requestTTL,
	}
}

func (s *Memory) CreateRequest(ctx context.Context, req *models.CallRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RoomID] = memoryRequest{req: req, expiresAt: time.Now().Add(s.requestTTL)}
	return nil
}

func (s *Memory) GetRequest(ctx context.Context, roomID string) (*models.CallRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.requests[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.requests, roomID)
		return nil, ErrNotFound
	}
	return entry.req, nil
}

func (s *Memory) DeleteRequest(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[roomID]; !ok {
		return ErrNotFound
	}
	delete(s.requests, roomID)
	return nil
}

func (s *Memory) SaveTokens(ctx context.Context, tokens ...*models.CallToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range tokens {
		s.tokens[tok.Token] = tok
	}
	return nil
}

func (s *Memory) ConsumeToken(ctx context.Context, token string) (*models.CallToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.tokens, token)
	return tok, nil
}
