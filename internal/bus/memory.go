package bus

import (
	"context"
	"sync"

	"github.com/mossy-p/call-gateway/internal/models"
)

// Memory is an in-process Bus for tests and single-node setups. Delivery is
// synchronous, which keeps test assertions deterministic.
type Memory struct {
	mu       sync.Mutex
	handlers []Handler
}

func NewMemory() *Memory {
	return &Memory{}
}

func (b *Memory) Publish(ctx context.Context, n models.Notice) error {
	if !n.Type.Known() {
		return nil
	}
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(n)
	}
	return nil
}

func (b *Memory) Subscribe(ctx context.Context, fn Handler) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
	return nil
}
