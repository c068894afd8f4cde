// Package broker forwards analytics calls to a message broker through a
// watermill publisher.
//
// Every call becomes one JSON Envelope published asynchronously on either
// the events topic or the user properties topic. Downstream consumers own
// delivery to the actual analytics vendor. Publishing runs behind a circuit
// breaker so an unavailable broker does not stall the write queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/randalmurphal/prodact/internal/profile"
	"github.com/randalmurphal/prodact/internal/queue"
	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// BackendName identifies this backend in logs.
const BackendName = "broker"

// DefaultTopicPrefix is prepended to the topic suffixes.
const DefaultTopicPrefix = "prodact."

const (
	eventsSuffix         = "events"
	userPropertiesSuffix = "user_properties"
)

// Envelope operations.
const (
	OpLogEvent          = "log_event"
	OpSetUserProperties = "set_user_properties"
	OpClear             = "clear"
	OpSet               = "set"
	OpSetOnce           = "set_once"
	OpAdd               = "add"
	OpUnset             = "unset"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = queue.ErrClosed

// MetadataOp is the message metadata key carrying Envelope.Op.
const MetadataOp = "op"

// Envelope is the JSON payload of every published message.
type Envelope struct {
	ID           string             `json:"id"`
	Op           string             `json:"op"`
	Name         string             `json:"name,omitempty"`
	Properties   prodact.Properties `json:"properties,omitempty"`
	Value        any                `json:"value,omitempty"`
	Mutability   string             `json:"mutability,omitempty"`
	OutOfSession bool               `json:"out_of_session,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Backend publishes analytics calls as Envelopes.
type Backend struct {
	publisher message.Publisher
	logger    *slog.Logger
	prefix    string

	bufferSize       int
	onceCacheSize    int
	failureThreshold uint32
	openTimeout      time.Duration

	worker  *queue.Worker
	breaker *gobreaker.CircuitBreaker

	// sentOnce remembers WriteOnce keys already published by this process.
	sentOnce *lru.Cache[string, struct{}]

	mu     sync.RWMutex
	closed bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for publish failures and breaker state changes.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithTopicPrefix sets the topic prefix.
// Default: "prodact."
func WithTopicPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithBufferSize sets how many publishes may be pending before calls are dropped.
// Default: 256
func WithBufferSize(n int) Option {
	return func(b *Backend) {
		b.bufferSize = n
	}
}

// WithOnceCacheSize bounds the number of WriteOnce keys remembered.
// Default: 1024
func WithOnceCacheSize(n int) Option {
	return func(b *Backend) {
		b.onceCacheSize = n
	}
}

// WithCircuitBreaker sets the consecutive failures that open the breaker and
// how long it stays open.
// Default: 5 failures, 30s
func WithCircuitBreaker(failureThreshold uint32, openTimeout time.Duration) Option {
	return func(b *Backend) {
		b.failureThreshold = failureThreshold
		b.openTimeout = openTimeout
	}
}

// New creates a backend publishing through publisher. The backend owns the
// publisher and closes it in Close.
func New(publisher message.Publisher, opts ...Option) *Backend {
	b := &Backend{
		publisher:        publisher,
		prefix:           DefaultTopicPrefix,
		bufferSize:       queue.DefaultConfig.BufferSize,
		onceCacheSize:    1024,
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.onceCacheSize <= 0 {
		b.onceCacheSize = 1024
	}
	b.sentOnce, _ = lru.New[string, struct{}](b.onceCacheSize)

	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    BackendName,
		Timeout: b.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.logger != nil {
				b.logger.Warn("analytics publisher circuit breaker changed state",
					slog.String("backend", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}
		},
	})

	b.worker = queue.New(queue.Config{
		BufferSize: b.bufferSize,
		OnDrop: func(op string, pending int) {
			if b.logger != nil {
				b.logger.Warn("analytics publish queue full, call dropped",
					slog.String("backend", BackendName),
					slog.String("op", op),
					slog.Int("pending", pending),
				)
			}
		},
		OnPanic: func(op string, err error) {
			observability.LogBackendError(b.logger, BackendName, op, err)
		},
	})

	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

// EventsTopic returns the topic events are published on.
func (b *Backend) EventsTopic() string { return b.prefix + eventsSuffix }

// UserPropertiesTopic returns the topic user property changes are published on.
func (b *Backend) UserPropertiesTopic() string { return b.prefix + userPropertiesSuffix }

// Configure implements prodact.EventHandler and prodact.UserPropertiesHandler.
// The publisher is connected at construction, so it only logs.
func (b *Backend) Configure(context.Context) {
	if b.logger != nil {
		b.logger.Debug("analytics broker backend ready",
			slog.String("events_topic", b.EventsTopic()),
			slog.String("user_properties_topic", b.UserPropertiesTopic()),
		)
	}
}

// LogEvent implements prodact.EventHandler.
func (b *Backend) LogEvent(ctx context.Context, name string) {
	b.publish(ctx, b.EventsTopic(), Envelope{Op: OpLogEvent, Name: name})
}

// LogEventWithProperties implements prodact.EventHandler.
func (b *Backend) LogEventWithProperties(ctx context.Context, name string, props prodact.Properties, outOfSession bool) {
	b.publish(ctx, b.EventsTopic(), Envelope{
		Op:           OpLogEvent,
		Name:         name,
		Properties:   props.Clone(),
		OutOfSession: outOfSession,
	})
}

// SetUserProperties implements prodact.UserPropertiesHandler.
func (b *Backend) SetUserProperties(ctx context.Context, props prodact.Properties) {
	b.publish(ctx, b.UserPropertiesTopic(), Envelope{Op: OpSetUserProperties, Properties: props.Clone()})
}

// ClearUserProperties implements prodact.UserPropertiesHandler.
func (b *Backend) ClearUserProperties(ctx context.Context) {
	b.sentOnce.Purge()
	b.publish(ctx, b.UserPropertiesTopic(), Envelope{Op: OpClear})
}

// Set implements prodact.UserPropertiesHandler.
//
// WriteOnce keys are published as set_once, and only until one publish of
// the key succeeds. A failed or dropped set_once is forgotten so the next
// Set retries it. Consumers apply set_once only when the property is
// undefined.
func (b *Backend) Set(ctx context.Context, key prodact.PropertyKey, value any) {
	op := OpSet
	var failed func()
	if key.Mutability == prodact.WriteOnce {
		if ok, _ := b.sentOnce.ContainsOrAdd(key.Name, struct{}{}); ok {
			if b.logger != nil {
				b.logger.Debug("write-once property already sent",
					slog.String("backend", BackendName),
					slog.String("key", key.Name),
				)
			}
			return
		}
		op = OpSetOnce
		failed = func() { b.sentOnce.Remove(key.Name) }
	}

	b.send(ctx, b.UserPropertiesTopic(), Envelope{
		Op:         op,
		Name:       key.Name,
		Value:      value,
		Mutability: key.Mutability.String(),
	}, failed)
}

// Add implements prodact.UserPropertiesHandler.
// Non-numeric values are sent as a zero delta and log a warning.
func (b *Backend) Add(ctx context.Context, key prodact.PropertyKey, value any) {
	if _, ok := profile.Delta(value); !ok {
		if b.logger != nil {
			b.logger.Warn("add only supports numeric values",
				slog.String("backend", BackendName),
				slog.String("key", key.Name),
				slog.Any("value", value),
			)
		}
		value = int64(0)
	}
	b.publish(ctx, b.UserPropertiesTopic(), Envelope{Op: OpAdd, Name: key.Name, Value: value})
}

// Unset implements prodact.UserPropertiesHandler.
func (b *Backend) Unset(ctx context.Context, key prodact.PropertyKey) {
	b.sentOnce.Remove(key.Name)
	b.publish(ctx, b.UserPropertiesTopic(), Envelope{Op: OpUnset, Name: key.Name})
}

func (b *Backend) publish(ctx context.Context, topic string, env Envelope) {
	b.send(ctx, topic, env, nil)
}

// send publishes env asynchronously. failed, if set, runs when the envelope
// never reaches the publisher or the publish returns an error.
func (b *Backend) send(ctx context.Context, topic string, env Envelope, failed func()) {
	if failed == nil {
		failed = func() {}
	}

	env.ID = watermill.NewUUID()
	env.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(env)
	if err != nil {
		observability.LogBackendError(b.logger, BackendName, env.Op, fmt.Errorf("marshal envelope: %w", err))
		failed()
		return
	}

	msg := message.NewMessage(env.ID, payload)
	msg.Metadata.Set(MetadataOp, env.Op)
	msg.SetContext(context.WithoutCancel(ctx))

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		if b.logger != nil {
			b.logger.Warn("analytics call dropped",
				slog.String("backend", BackendName),
				slog.String("op", env.Op),
				slog.Bool("closed", true),
			)
		}
		failed()
		return
	}

	submitted := b.worker.Submit(env.Op, func() {
		_, err := b.breaker.Execute(func() (interface{}, error) {
			return nil, b.publisher.Publish(topic, msg)
		})
		if err != nil {
			observability.LogBackendError(b.logger, BackendName, env.Op,
				fmt.Errorf("publish to topic %s: %w", topic, err))
			failed()
		}
	})
	if !submitted {
		failed()
	}
}

// Flush waits until every call made before Flush has been published or failed.
func (b *Backend) Flush(ctx context.Context) error {
	return b.worker.Flush(ctx)
}

// Close publishes pending calls and closes the publisher. Close is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.worker.Close()
	if err := b.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (b *Backend) BreakerState() gobreaker.State {
	return b.breaker.State()
}

var (
	_ prodact.EventHandler          = (*Backend)(nil)
	_ prodact.UserPropertiesHandler = (*Backend)(nil)
)
