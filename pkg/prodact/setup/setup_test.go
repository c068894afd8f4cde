package setup_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/broker"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/logsink"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/memory"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/otelsink"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/sqlite"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
	"github.com/randalmurphal/prodact/pkg/prodact/setup"
)

var launches = prodact.NewUserPropertyKey[int]("launches")

func gochannelFactory(url string, _ *slog.Logger) (message.Publisher, error) {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), nil
}

func TestBuild_AllSinks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "analytics.db")
	cfg := config.New(map[string]any{
		"sinks": []any{
			map[string]any{"type": "memory"},
			map[string]any{"type": "sqlite", "path": dbPath},
			map[string]any{"type": "broker", "url": "amqp://test", "topic_prefix": "app."},
			map[string]any{"type": "otel"},
			map[string]any{"type": "log", "level": "debug"},
		},
	})

	res, err := setup.Build(context.Background(), cfg, setup.WithPublisherFactory(gochannelFactory))
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })

	require.Len(t, res.Sinks, 5)
	assert.IsType(t, &memory.Backend{}, res.Sinks[0].Handler)
	assert.IsType(t, &sqlite.Backend{}, res.Sinks[1].Handler)
	assert.IsType(t, &broker.Backend{}, res.Sinks[2].Handler)
	assert.IsType(t, &otelsink.Backend{}, res.Sinks[3].Handler)
	assert.IsType(t, &logsink.Backend{}, res.Sinks[4].Handler)

	assert.Equal(t, "app.events", res.Sinks[2].Handler.(*broker.Backend).EventsTopic())

	events, props := res.Analytics.HandlerCount()
	assert.Equal(t, 5, events)
	assert.Equal(t, 4, props) // otel handles events only
	assert.Equal(t, prodact.Unconfigured, res.Analytics.State())
}

func TestBuild_EndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "analytics.db")
	cfg := config.New(map[string]any{
		"sinks": []any{
			map[string]any{"type": "memory"},
			map[string]any{"type": "sqlite", "path": dbPath},
		},
	})

	res, err := setup.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })

	ctx := context.Background()
	res.Analytics.ConfigureAll(ctx)
	prodact.Add(ctx, res.Analytics, launches, 5)
	prodact.Add(ctx, res.Analytics, launches, -2)
	require.NoError(t, res.Flush(ctx))

	mem := res.Sinks[0].Handler.(*memory.Backend)
	v, ok := mem.Property("launches")
	require.True(t, ok)
	assert.Equal(t, float64(3), v)

	db := res.Sinks[1].Handler.(*sqlite.Backend)
	v, ok, err = db.Property(ctx, "launches")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(3), v)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name  string
		sinks []any
		want  error
	}{
		{"unknown type", []any{map[string]any{"type": "mixpanel"}}, setup.ErrUnknownSink},
		{"missing type", []any{map[string]any{}}, setup.ErrUnknownSink},
		{"broker without url", []any{map[string]any{"type": "broker"}}, setup.ErrInvalidSink},
		{"bad log level", []any{map[string]any{"type": "log", "level": "loud"}}, setup.ErrInvalidSink},
		{"broker zero threshold", []any{map[string]any{
			"type": "broker", "url": "amqp://localhost", "failure_threshold": 0,
		}}, setup.ErrInvalidSink},
		{"broker negative threshold", []any{map[string]any{
			"type": "broker", "url": "amqp://localhost", "failure_threshold": -1,
		}}, setup.ErrInvalidSink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup.Build(context.Background(), config.New(map[string]any{"sinks": tt.sinks}))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuild_PublisherFailure(t *testing.T) {
	cfg := config.New(map[string]any{
		"sinks": []any{map[string]any{"type": "broker", "url": "amqp://down"}},
	})
	boom := errors.New("dial failed")

	_, err := setup.Build(context.Background(), cfg, setup.WithPublisherFactory(
		func(string, *slog.Logger) (message.Publisher, error) { return nil, boom },
	))
	assert.ErrorIs(t, err, boom)
}

func TestBuild_ExtraHandlers(t *testing.T) {
	extra := memory.New()
	res, err := setup.Build(context.Background(), config.New(nil), setup.WithHandlers(extra))
	require.NoError(t, err)

	require.Len(t, res.Sinks, 1)
	assert.Same(t, extra, res.Sinks[0].Handler)

	_, err = setup.Build(context.Background(), config.New(nil), setup.WithHandlers("nope"))
	assert.ErrorIs(t, err, setup.ErrInvalidSink)
}

func TestBuild_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.New(map[string]any{"sinks": []any{map[string]any{"type": "memory"}}})
	_, err := setup.Build(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_CloseIsSafeWithoutConfigure(t *testing.T) {
	cfg := config.New(map[string]any{
		"sinks": []any{map[string]any{"type": "sqlite", "path": ":memory:"}},
	})
	res, err := setup.Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.NoError(t, res.Flush(context.Background()))
	assert.NoError(t, res.Close())
}
