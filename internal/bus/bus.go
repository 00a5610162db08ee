// Package bus bridges the cross-process event channel into the gateway's
// local dispatch. Notices published here are observed by every gateway
// process, including the publisher.
package bus

import (
	"context"

	"github.com/mossy-p/call-gateway/internal/models"
)

// Handler receives one notice. Handlers must not block; the subscription
// loop delivers notices sequentially.
type Handler func(models.Notice)

type Bus interface {
	Publish(ctx context.Context, n models.Notice) error
	// Subscribe registers the handler and starts delivery until ctx is done.
	Subscribe(ctx context.Context, fn Handler) error
}
