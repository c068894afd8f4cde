// Package setup builds an Analytics and its sinks from configuration.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/broker"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
)

var (
	// ErrUnknownSink is returned for a sink type Build does not know.
	ErrUnknownSink = errors.New("unknown sink type")

	// ErrInvalidSink is returned for a sink missing a required setting.
	ErrInvalidSink = errors.New("invalid sink configuration")
)

// Sink types accepted in the "type" key of a sink entry.
const (
	SinkMemory = "memory"
	SinkSQLite = "sqlite"
	SinkBroker = "broker"
	SinkOTel   = "otel"
	SinkLog    = "log"
)

// DefaultSQLitePath is used when a sqlite sink has no path.
const DefaultSQLitePath = "prodact.db"

// PublisherFactory connects the publisher for a broker sink.
type PublisherFactory func(url string, logger *slog.Logger) (message.Publisher, error)

// Sink is one constructed backend.
type Sink struct {
	Type    string
	Handler any
}

// Result is the outcome of Build.
type Result struct {
	Analytics *prodact.Analytics
	Sinks     []Sink
}

type options struct {
	logger     *slog.Logger
	publishers PublisherFactory
	registry   *Registry
	factories  map[string]Factory
	extra      []any
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger passed to Analytics and every sink.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPublisherFactory replaces the AMQP publisher used by broker sinks.
func WithPublisherFactory(f PublisherFactory) Option {
	return func(o *options) {
		o.publishers = f
	}
}

// WithRegistry replaces the built-in sink registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithSinkFactory adds a sink type for this Build only.
func WithSinkFactory(typ string, f Factory) Option {
	return func(o *options) {
		if o.factories == nil {
			o.factories = make(map[string]Factory)
		}
		o.factories[typ] = f
	}
}

// WithHandlers registers additional handlers after the configured sinks.
func WithHandlers(handlers ...any) Option {
	return func(o *options) {
		o.extra = append(o.extra, handlers...)
	}
}

// Build creates an unconfigured Analytics with one handler per entry of
// the "sinks" list. The caller calls ConfigureAll and, when done, Close.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*Result, error) {
	o := options{publishers: broker.NewAMQPPublisher}
	for _, opt := range opts {
		opt(&o)
	}

	registry := o.registry
	if registry == nil {
		registry = NewRegistry()
	}
	if len(o.factories) > 0 {
		registry = registry.Clone()
		for typ, f := range o.factories {
			registry.Register(typ, f)
		}
	}
	env := Env{Logger: o.logger, Publishers: o.publishers}

	a := prodact.New(
		prodact.WithLogger(o.logger),
		prodact.WithMetrics(cfg.Bool(config.KeyMetrics, false)),
		prodact.WithTracing(cfg.Bool(config.KeyTracing, false)),
	)
	res := &Result{Analytics: a}

	for i, sc := range cfg.Slice(config.KeySinks) {
		if err := ctx.Err(); err != nil {
			res.Close()
			return nil, err
		}

		typ := sc.String(config.KeyType, "")
		handler, err := registry.build(typ, sc, env)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("sink %d: %w", i, err)
		}
		if !a.AddHandler(handler) {
			res.Close()
			return nil, fmt.Errorf("sink %d: %w: %T is not a handler", i, ErrInvalidSink, handler)
		}
		res.Sinks = append(res.Sinks, Sink{Type: typ, Handler: handler})
	}

	for _, h := range o.extra {
		if !a.AddHandler(h) {
			res.Close()
			return nil, fmt.Errorf("%w: %T is not a handler", ErrInvalidSink, h)
		}
		res.Sinks = append(res.Sinks, Sink{Type: fmt.Sprintf("%T", h), Handler: h})
	}

	return res, nil
}

type flusher interface {
	Flush(ctx context.Context) error
}

type closer interface {
	Close() error
}

// Flush waits for pending writes of every sink that buffers.
func (r *Result) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range r.Sinks {
		if f, ok := s.Handler.(flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", s.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources, in reverse order.
func (r *Result) Close() error {
	var errs []error
	for _, s := range slices.Backward(r.Sinks) {
		if c, ok := s.Handler.(closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Type, err))
			}
		}
	}
	return errors.Join(errs...)
}
