package benchmarks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/adapter/sqlite"
	"github.com/randalmurphal/prodact/pkg/prodact/encoding"
)

// BenchmarkEncode_Struct measures payload flattening.
func BenchmarkEncode_Struct(b *testing.B) {
	payload := SearchParams{Query: "go", Results: 3, Exact: true, Duration: 12.5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = encoding.Encode(payload)
	}
}

// BenchmarkEncode_Map measures normalization of an untyped map.
func BenchmarkEncode_Map(b *testing.B) {
	payload := map[string]any{"query": "go", "results": 3, "exact": true, "duration_ms": float32(12.5)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = encoding.Encode(payload)
	}
}

// BenchmarkSQLite_LogEvent measures queued event writes including the flush.
func BenchmarkSQLite_LogEvent(b *testing.B) {
	backend := sqlite.New(filepath.Join(b.TempDir(), "bench.db"), sqlite.WithBufferSize(b.N+1))
	defer backend.Close()

	ctx := context.Background()
	backend.Configure(ctx)
	props := prodact.Properties{"query": "go", "results": int64(3)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.LogEventWithProperties(ctx, "search", props, false)
	}
	_ = backend.Flush(ctx)
}

// BenchmarkSQLite_Add measures queued counter updates including the flush.
func BenchmarkSQLite_Add(b *testing.B) {
	backend := sqlite.New(filepath.Join(b.TempDir(), "bench.db"), sqlite.WithBufferSize(b.N+1))
	defer backend.Close()

	ctx := context.Background()
	backend.Configure(ctx)
	key := prodact.PropertyKey{Name: "launches"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.Add(ctx, key, int64(1))
	}
	_ = backend.Flush(ctx)
}
