package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig configures the in-memory bus.
type MemoryConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{NumWorkers: 8, BufferSize: 10000}
}

type memoryMessage struct {
	channel string
	payload []byte
}

type kvEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// MemoryBus is an in-process publish/subscribe bus with a buffered,
// drop-on-full delivery channel and a worker pool draining it, adapted from
// the project's original in-process event bus. It backs unit tests and a
// degraded local mode when no Redis connection is configured.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler

	kvMu sync.Mutex
	kv   map[string]kvEntry

	msgChan chan memoryMessage
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropped int64
}

// NewMemoryBus starts a worker pool consuming the internal delivery channel.
func NewMemoryBus(logger *zap.Logger, cfg MemoryConfig) *MemoryBus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 8
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{
		subscribers: make(map[string][]Handler),
		kv:          make(map[string]kvEntry),
		msgChan:     make(chan memoryMessage, cfg.BufferSize),
		logger:      logger.Named("bus-memory"),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

func (b *MemoryBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.msgChan:
			b.deliver(msg)
		}
	}
}

func (b *MemoryBus) deliver(msg memoryMessage) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[msg.channel]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("handler panic",
						zap.String("channel", msg.channel),
						zap.Any("panic", r))
				}
			}()
			if err := h(b.ctx, msg.payload); err != nil {
				b.logger.Warn("handler error",
					zap.String("channel", msg.channel),
					zap.Error(err))
			}
		}()
	}
}

// Publish is non-blocking; if the internal buffer is full the message is
// dropped and counted, matching the at-least-once-but-not-guaranteed nature
// of the transport documented in §4.1.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	select {
	case b.msgChan <- memoryMessage{channel: channel, payload: payload}:
		return nil
	default:
		b.dropped++
		b.logger.Warn("message dropped, buffer full", zap.String("channel", channel))
		return &ErrRetryable{Op: "publish", Err: context.DeadlineExceeded}
	}
}

// Subscribe registers handler for channel. Subscriptions are process-local
// and are not persisted; a restart loses them, same as the teacher's own
// event bus.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], handler)
	return nil
}

// Get returns the value for key if present and not expired.
func (b *MemoryBus) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()

	entry, ok := b.kv[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(b.kv, key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set replaces key's value wholesale, with an optional TTL.
func (b *MemoryBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.kv[key] = kvEntry{value: stored, expires: expires}
	return nil
}

// Close stops the worker pool. Subscriptions and KV state are not cleared.
func (b *MemoryBus) Close() error {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("memory bus shutdown timed out")
	}
	return nil
}
