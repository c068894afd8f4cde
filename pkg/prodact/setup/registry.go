package setup

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/prodact/pkg/prodact/adapter/broker"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/logsink"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/memory"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/otelsink"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/sqlite"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
)

// Env carries shared dependencies into sink factories.
type Env struct {
	Logger     *slog.Logger
	Publishers PublisherFactory
}

// Factory builds the handler for one sink entry. The handler must
// implement prodact.EventHandler, prodact.UserPropertiesHandler, or both.
type Factory func(sc config.Config, env Env) (any, error)

// Registry maps sink types to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in sink types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(SinkMemory, newMemory)
	r.Register(SinkSQLite, newSQLite)
	r.Register(SinkBroker, newBroker)
	r.Register(SinkOTel, newOTel)
	r.Register(SinkLog, newLog)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Get returns the factory for typ.
func (r *Registry) Get(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Types returns the registered sink types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{factories: maps.Clone(r.factories)}
}

func (r *Registry) build(typ string, sc config.Config, env Env) (any, error) {
	f, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, typ)
	}
	return f(sc, env)
}

func newMemory(_ config.Config, env Env) (any, error) {
	return memory.New(memory.WithLogger(env.Logger)), nil
}

func newSQLite(sc config.Config, env Env) (any, error) {
	return sqlite.New(sc.String("path", DefaultSQLitePath),
		sqlite.WithLogger(env.Logger),
		sqlite.WithBufferSize(sc.Int("buffer_size", 0)),
	), nil
}

func newBroker(sc config.Config, env Env) (any, error) {
	url := sc.String("url", "")
	if url == "" {
		return nil, fmt.Errorf("%w: broker sink requires url", ErrInvalidSink)
	}
	threshold := sc.Int("failure_threshold", 5)
	if threshold < 1 || int64(threshold) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: broker failure_threshold must be positive, got %d", ErrInvalidSink, threshold)
	}
	pub, err := env.Publishers(url, env.Logger)
	if err != nil {
		return nil, err
	}
	return broker.New(pub,
		broker.WithLogger(env.Logger),
		broker.WithTopicPrefix(sc.String("topic_prefix", broker.DefaultTopicPrefix)),
		broker.WithBufferSize(sc.Int("buffer_size", 0)),
		broker.WithOnceCacheSize(sc.Int("once_cache_size", 0)),
		broker.WithCircuitBreaker(
			uint32(threshold),
			sc.Duration("open_timeout", 30*time.Second),
		),
	), nil
}

func newOTel(_ config.Config, env Env) (any, error) {
	return otelsink.New(otelsink.WithLogger(env.Logger)), nil
}

func newLog(sc config.Config, env Env) (any, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(sc.String("level", "info"))); err != nil {
		return nil, fmt.Errorf("%w: log level: %v", ErrInvalidSink, err)
	}
	return logsink.New(env.Logger, logsink.WithLevel(level)), nil
}
