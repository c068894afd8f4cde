package setup_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/prodact/pkg/prodact/adapter/memory"
	"github.com/randalmurphal/prodact/pkg/prodact/config"
	"github.com/randalmurphal/prodact/pkg/prodact/setup"
)

func TestRegistry_Builtins(t *testing.T) {
	r := setup.NewRegistry()
	assert.Equal(t, []string{"broker", "log", "memory", "otel", "sqlite"}, r.Types())

	_, ok := r.Get(setup.SinkMemory)
	assert.True(t, ok)
	_, ok = r.Get("mixpanel")
	assert.False(t, ok)
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	r := setup.NewRegistry()
	c := r.Clone()
	c.Register("custom", func(config.Config, setup.Env) (any, error) { return memory.New(), nil })

	_, ok := c.Get("custom")
	assert.True(t, ok)
	_, ok = r.Get("custom")
	assert.False(t, ok)
}

func TestBuild_CustomSinkFactory(t *testing.T) {
	var gotName string
	factory := func(sc config.Config, env setup.Env) (any, error) {
		gotName = sc.String("name", "")
		return memory.New(memory.WithLogger(env.Logger)), nil
	}
	cfg := config.New(map[string]any{
		"sinks": []any{map[string]any{"type": "vendor", "name": "acme"}},
	})

	res, err := setup.Build(context.Background(), cfg, setup.WithSinkFactory("vendor", factory))
	require.NoError(t, err)
	require.Len(t, res.Sinks, 1)
	assert.Equal(t, "vendor", res.Sinks[0].Type)
	assert.Equal(t, "acme", gotName)

	// The option does not leak into later builds.
	_, err = setup.Build(context.Background(), cfg)
	assert.ErrorIs(t, err, setup.ErrUnknownSink)
}

func TestBuild_WithRegistry(t *testing.T) {
	r := setup.NewRegistry()
	r.Register("not_a_handler", func(config.Config, setup.Env) (any, error) { return 42, nil })

	cfg := config.New(map[string]any{
		"sinks": []any{map[string]any{"type": "not_a_handler"}},
	})
	_, err := setup.Build(context.Background(), cfg, setup.WithRegistry(r))
	assert.ErrorIs(t, err, setup.ErrInvalidSink)
}
