package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/call-gateway/internal/models"
)

const (
	requestKeyPrefix = "call:request:"
	tokenKeyPrefix   = "call:token:"

	// Tokens are consumed at WebSocket-open time, normally seconds after
	// acceptance; the TTL only bounds abandoned pairs.
	tokenTTL = 24 * time.Hour
)

// Redis implements CallStore on a Redis client, mirroring how room metadata
// is kept: JSON values under prefixed keys with a TTL.
type Redis struct {
	rdb        *redis.Client
	requestTTL time.Duration
}

func NewRedis(rdb *redis.Client, requestTTL time.Duration) *Redis {
	return &Redis{rdb: rdb, requestTTL: requestTTL}
}

func (s *Redis) CreateRequest(ctx context.Context, req *models.CallRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("store: marshal request: %w", err)
	}
	if err := s.rdb.Set(ctx, requestKeyPrefix+req.RoomID, data, s.requestTTL).Err(); err != nil {
		return fmt.Errorf("store: save request: %w", err)
	}
	return nil
}

func (s *Redis) GetRequest(ctx context.Context, roomID string) (*models.CallRequest, error) {
	data, err := s.rdb.Get(ctx, requestKeyPrefix+roomID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get request: %w", err)
	}
	var req models.CallRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("store: parse request: %w", err)
	}
	return &req, nil
}

func (s *Redis) DeleteRequest(ctx context.Context, roomID string) error {
	n, err := s.rdb.Del(ctx, requestKeyPrefix+roomID).Result()
	if err != nil {
		return fmt.Errorf("store: delete request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) SaveTokens(ctx context.Context, tokens ...*models.CallToken) error {
	for _, tok := range tokens {
		data, err := json.Marshal(tok)
		if err != nil {
			return fmt.Errorf("store: marshal token: %w", err)
		}
		if err := s.rdb.Set(ctx, tokenKeyPrefix+tok.Token, data, tokenTTL).Err(); err != nil {
			return fmt.Errorf("store: save token: %w", err)
		}
	}
	return nil
}

func (s *Redis) ConsumeToken(ctx context.Context, token string) (*models.CallToken, error) {
	data, err := s.rdb.GetDel(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: consume token: %w", err)
	}
	var tok models.CallToken
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, fmt.Errorf("store: parse token: %w", err)
	}
	return &tok, nil
}
