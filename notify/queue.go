package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Event represents a queued notification for the external inbox/email surface.
type Event struct {
	Type          string
	TransactionID uuid.UUID
	BuyerID       uuid.UUID
	Attributes    map[string]string
	CreatedAt     time.Time
}

// Notification event types emitted by the escrow core.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCancelled = "transaction.cancelled"
	EventDepositConfirmed     = "transaction.funds_confirmed"
	EventReleaseAuthorized    = "transaction.release_authorized"
	EventItemDelivered        = "item.delivered"
	EventTransactionCompleted = "transaction.completed"
)

type queuedEvent struct {
	event      Event
	enqueuedAt time.Time
}

// Option adjusts the behaviour of the queue.
type Option func(*queueConfig)

type queueConfig struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

const (
	defaultCapacity = 1024
	defaultTTL      = 15 * time.Minute
)

// WithCapacity sets the maximum number of pending events.
func WithCapacity(capacity int) Option {
	return func(cfg *queueConfig) {
		if capacity > 0 {
			cfg.capacity = capacity
		}
	}
}

// WithTTL configures how long queued events remain eligible for delivery.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *queueConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// withClock overrides the clock used for TTL evaluation (test only).
func withClock(now func() time.Time) Option {
	return func(cfg *queueConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Queue is a bounded in-memory buffer between the escrow core and the
// notification surface. Overflow drops the oldest event rather than blocking
// a transition.
type Queue struct {
	mu      sync.Mutex
	events  ring[queuedEvent]
	ttl     time.Duration
	now     func() time.Time
	metrics *queueMetrics
}

// NewQueue constructs a bounded queue with optional customisation.
func NewQueue(opts ...Option) *Queue {
	cfg := queueConfig{
		capacity: defaultCapacity,
		ttl:      defaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue{
		events:  newRing[queuedEvent](cfg.capacity),
		ttl:     cfg.ttl,
		now:     cfg.now,
		metrics: sharedMetrics(),
	}
}

// Enqueue adds an event to the queue.
func (q *Queue) Enqueue(evt Event) {
	now := q.now()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(now)
	if _, dropped := q.events.push(queuedEvent{event: evt, enqueuedAt: now}); dropped {
		q.metrics.recordDropped("overflow", 1)
	}
}

// Events returns a snapshot copy of queued events. Primarily used in tests.
func (q *Queue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(q.now())
	snapshot := make([]Event, 0, q.events.len())
	q.events.forEach(func(entry queuedEvent) {
		snapshot = append(snapshot, entry.event)
	})
	return snapshot
}

// Dequeue waits for the next event. Returns false if the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		q.evictExpiredLocked(q.now())
		queued, ok := q.events.pop()
		q.mu.Unlock()
		if ok {
			return queued.event, true
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (q *Queue) evictExpiredLocked(now time.Time) {
	if q.ttl <= 0 {
		return
	}
	expired := 0
	for {
		queued, ok := q.events.peek()
		if !ok {
			break
		}
		if now.Sub(queued.enqueuedAt) <= q.ttl {
			break
		}
		q.events.pop()
		expired++
	}
	if expired > 0 {
		q.metrics.recordDropped("ttl", expired)
	}
}

// ring is a fixed-size ring buffer that overwrites the oldest element on overflow.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) ring[T] {
	if capacity <= 0 {
		return ring[T]{}
	}
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) (T, bool) {
	if len(r.buf) == 0 {
		var zero T
		return zero, true
	}
	if r.size == len(r.buf) {
		dropped := r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return dropped, true
	}
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = v
	r.size++
	var zero T
	return zero, false
}

func (r *ring[T]) pop() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *ring[T]) peek() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *ring[T]) len() int {
	return r.size
}

func (r *ring[T]) forEach(fn func(T)) {
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % len(r.buf)
		fn(r.buf[idx])
	}
}

var (
	metricsOnce   sync.Once
	metricsShared *queueMetrics
)

type queueMetrics struct {
	dropped metric.Int64Counter
}

func sharedMetrics() *queueMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("vaultbay/notify")
		counter, err := meter.Int64Counter("vaultbay.notify.dropped")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("vaultbay/notify")
			counter, _ = fallback.Int64Counter("vaultbay.notify.dropped")
		}
		metricsShared = &queueMetrics{dropped: counter}
	})
	return metricsShared
}

func (m *queueMetrics) recordDropped(reason string, count int) {
	if m == nil || m.dropped == nil || count <= 0 {
		return
	}
	m.dropped.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}
