package sqlite_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/prodact/internal/profile"
	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/sqlite"
)

var (
	appOpen  = prodact.NewEventKey[prodact.Empty]("app_open")
	search   = prodact.NewEventKey[searchParams]("search")
	cohort   = prodact.NewUserPropertyKey[string]("cohort", prodact.WithMutability(prodact.WriteOnce))
	theme    = prodact.NewUserPropertyKey[string]("theme")
	launches = prodact.NewUserPropertyKey[int]("launches")
	premium  = prodact.NewUserPropertyKey[bool]("premium")
)

type searchParams struct {
	Query string  `json:"query"`
	Score float64 `json:"score"`
}

func newBackend(t *testing.T, opts ...sqlite.Option) (*prodact.Analytics, *sqlite.Backend) {
	t.Helper()
	b := sqlite.New(filepath.Join(t.TempDir(), "analytics.db"), opts...)
	t.Cleanup(func() { b.Close() })

	a := prodact.New()
	require.True(t, a.AddHandler(b))
	a.ConfigureAll(context.Background())
	return a, b
}

func flush(t *testing.T, b *sqlite.Backend) {
	t.Helper()
	require.NoError(t, b.Flush(context.Background()))
}

func TestBackend_Events(t *testing.T) {
	a, b := newBackend(t)
	ctx := context.Background()

	a.LogEvent(ctx, appOpen)
	require.NoError(t, prodact.LogEventWith(ctx, a, search, searchParams{Query: "go", Score: 0.5},
		prodact.OutOfSession()))
	flush(t, b)

	events, err := b.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "app_open", events[0].Name)
	assert.Nil(t, events[0].Properties)
	assert.False(t, events[0].OutOfSession)
	assert.NotEmpty(t, events[0].ID)

	assert.Equal(t, "search", events[1].Name)
	assert.Equal(t, prodact.Properties{"query": "go", "score": 0.5}, events[1].Properties)
	assert.True(t, events[1].OutOfSession)
	assert.False(t, events[1].Timestamp.IsZero())
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestBackend_WriteOnceKeepsFirst(t *testing.T) {
	a, b := newBackend(t)
	ctx := context.Background()

	prodact.Set(ctx, a, cohort, "2024-W10")
	prodact.Set(ctx, a, cohort, "2024-W11")
	flush(t, b)

	v, ok, err := b.Property(ctx, "cohort")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-W10", v)
}

func TestBackend_OverwritableKeepsLast(t *testing.T) {
	a, b := newBackend(t)
	ctx := context.Background()

	prodact.Set(ctx, a, theme, "dark")
	prodact.Set(ctx, a, theme, "light")
	flush(t, b)

	v, ok, err := b.Property(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", v)
}

func TestBackend_UnsetRemovesEveryRepresentation(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()
	key := prodact.PropertyKey{Name: "mixed"}

	b.Set(ctx, key, "text")
	b.Set(ctx, key, int64(3))
	b.Set(ctx, key, true)
	flush(t, b)

	v, ok, err := b.Property(ctx, "mixed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, true, v)

	b.Unset(ctx, key)
	flush(t, b)

	_, ok, err = b.Property(ctx, "mixed")
	require.NoError(t, err)
	assert.False(t, ok)
	for _, kind := range profile.Kinds {
		_, ok, err := b.Attribute(ctx, "mixed", kind)
		require.NoError(t, err)
		assert.False(t, ok, kind)
	}
}

func TestBackend_AddAccumulates(t *testing.T) {
	a, b := newBackend(t)
	ctx := context.Background()

	prodact.Add(ctx, a, launches, 5)
	prodact.Add(ctx, a, launches, -2)
	flush(t, b)

	v, ok, err := b.Property(ctx, "launches")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(3), v)
}

func TestBackend_AddNonNumericIsZeroDelta(t *testing.T) {
	buf := &bytes.Buffer{}
	_, b := newBackend(t, sqlite.WithLogger(slog.New(slog.NewTextHandler(buf, nil))))
	ctx := context.Background()
	key := prodact.PropertyKey{Name: "counter"}

	b.Add(ctx, key, int64(2))
	b.Add(ctx, key, "abc")
	flush(t, b)

	v, _, err := b.Property(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
	assert.Contains(t, buf.String(), "add only supports numeric values")
}

func TestBackend_SetUserPropertiesAndClear(t *testing.T) {
	a, b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, a.SetUserPropertiesMap(ctx, map[string]any{
		"year_of_first_launch": "2019",
		"age":                  30,
	}))
	prodact.Set(ctx, a, premium, true)
	flush(t, b)

	year, _, err := b.Property(ctx, "year_of_first_launch")
	require.NoError(t, err)
	assert.Equal(t, "2019", year)

	age, _, err := b.Property(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, float64(30), age)

	p, _, err := b.Property(ctx, "premium")
	require.NoError(t, err)
	assert.Equal(t, true, p)

	a.ClearUserProperties(ctx)
	flush(t, b)

	for _, name := range []string{"year_of_first_launch", "age", "premium"} {
		_, ok, err := b.Property(ctx, name)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
}

func TestBackend_DropsBeforeConfigure(t *testing.T) {
	buf := &bytes.Buffer{}
	b := sqlite.New(":memory:", sqlite.WithLogger(slog.New(slog.NewTextHandler(buf, nil))))
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	b.LogEvent(ctx, "early")
	assert.Contains(t, buf.String(), "analytics call dropped")

	_, err := b.Events(ctx)
	assert.ErrorIs(t, err, sqlite.ErrNotConfigured)
	assert.NoError(t, b.Flush(ctx))

	b.Configure(ctx)
	b.LogEvent(ctx, "late")
	flush(t, b)

	events, err := b.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "late", events[0].Name)
}

func TestBackend_ConfigureIsIdempotent(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()

	b.LogEvent(ctx, "one")
	b.Configure(ctx)
	b.LogEvent(ctx, "two")
	flush(t, b)

	events, err := b.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.db")
	ctx := context.Background()

	first := sqlite.New(path)
	first.Configure(ctx)
	first.Set(ctx, prodact.PropertyKey{Name: "theme"}, "dark")
	require.NoError(t, first.Close())

	second := sqlite.New(path)
	t.Cleanup(func() { second.Close() })
	second.Configure(ctx)

	v, ok, err := second.Property(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestBackend_Close(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Flush(ctx), sqlite.ErrClosed)
	_, err := b.Events(ctx)
	assert.ErrorIs(t, err, sqlite.ErrClosed)
	_, _, err = b.Property(ctx, "x")
	assert.ErrorIs(t, err, sqlite.ErrClosed)

	assert.NotPanics(t, func() { b.LogEvent(ctx, "after close") })
}
