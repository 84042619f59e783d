// Package bus provides the publish/subscribe transport and durable key/value
// side-channel used by the orchestrator. Delivery is at-least-once; handlers
// must be idempotent. Ordering is only guaranteed within a single channel
// from a single publisher.
package bus

import (
	"context"
	"time"
)

// Handler processes a single message delivered on a channel. A returned error
// is logged; it does not stop delivery to other handlers and is never retried
// by the bus itself (the caller's handler is responsible for idempotent
// reprocessing on redelivery).
type Handler func(ctx context.Context, payload []byte) error

// Bus is the Message Bus Adapter contract (§4.1). Two implementations exist:
// a Redis-backed adapter for production and an in-memory adapter for tests
// and degraded local operation.
type Bus interface {
	// Publish delivers payload to every active subscriber of channel.
	// Failures are surfaced as retryable errors; callers should retry with
	// backoff rather than drop the message.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler to be invoked for every message published
	// to channel from this point forward. No replay of missed messages is
	// attempted; closing the gap after a reconnect is the Reconciliation
	// Engine's job, not the bus's.
	Subscribe(ctx context.Context, channel string, handler Handler) error

	// Get reads a key from the durable side-channel. A missing key returns
	// (nil, false, nil) — not an error; readers must tolerate first boot.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set replaces a key's value wholesale, optionally with a TTL (zero
	// means no expiry). Failures are surfaced; the caller is expected to log
	// and hold the value in memory until the next Set succeeds (§4.1).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close disconnects from the transport and stops all subscriptions.
	Close() error
}

// ErrRetryable marks a Publish failure as one the caller should retry
// with backoff rather than treat as fatal. Set failures are not wrapped.
type ErrRetryable struct {
	Op  string
	Err error
}

func (e *ErrRetryable) Error() string {
	return "bus: " + e.Op + " retryable: " + e.Err.Error()
}

func (e *ErrRetryable) Unwrap() error { return e.Err }
