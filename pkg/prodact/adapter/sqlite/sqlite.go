// Package sqlite provides a durable local analytics backend on SQLite.
//
// Writes run on a background worker so handler calls never block on disk
// I/O. Calls made before Configure are dropped with a warning. Use Flush
// to wait for pending writes and Close to release the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/prodact/internal/profile"
	"github.com/randalmurphal/prodact/internal/queue"
	"github.com/randalmurphal/prodact/pkg/prodact"
	"github.com/randalmurphal/prodact/pkg/prodact/encoding"
	"github.com/randalmurphal/prodact/pkg/prodact/observability"
)

// BackendName identifies this backend in logs.
const BackendName = "sqlite"

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sqlite backend closed")

	// ErrNotConfigured is returned by reads before Configure succeeded.
	ErrNotConfigured = errors.New("sqlite backend not configured")
)

// Event is one stored event.
type Event struct {
	ID           string
	Name         string
	Properties   prodact.Properties // nil for events logged without properties
	OutOfSession bool
	Timestamp    time.Time
}

// Backend persists events and user properties to SQLite.
type Backend struct {
	path       string
	logger     *slog.Logger
	bufferSize int

	mu     sync.RWMutex
	db     *sql.DB
	worker *queue.Worker
	closed bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for backend failures and dropped calls.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithBufferSize sets how many writes may be pending before calls are dropped.
// Default: 256
func WithBufferSize(n int) Option {
	return func(b *Backend) {
		b.bufferSize = n
	}
}

// New creates a backend for the database at path. The path should be a file
// path (e.g., "./analytics.db") or ":memory:" for testing. Nothing is opened
// until Configure.
func New(path string, opts ...Option) *Backend {
	b := &Backend{
		path:       path,
		bufferSize: queue.DefaultConfig.BufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (b *Backend) Name() string { return BackendName }

// Configure opens the database and starts the write worker. Repeated calls
// are no-ops once the database is open.
func (b *Backend) Configure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.db != nil {
		return
	}

	db, err := open(ctx, b.path)
	if err != nil {
		observability.LogBackendError(b.logger, BackendName, prodact.OpConfigure, err)
		return
	}

	b.db = db
	b.worker = queue.New(queue.Config{
		BufferSize: b.bufferSize,
		OnDrop:     b.logDrop,
		OnPanic: func(op string, err error) {
			observability.LogBackendError(b.logger, BackendName, op, err)
		},
	})
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			properties TEXT,
			out_of_session INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	// value has no declared type so SQLite keeps text, real and integer as given.
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_properties (
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			value,
			sequence INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (name, kind)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create user_properties table: %w", err)
	}

	return db, nil
}

// LogEvent implements prodact.EventHandler.
func (b *Backend) LogEvent(_ context.Context, name string) {
	b.submit(prodact.OpLogEvent, func(ctx context.Context, db *sql.DB) error {
		return insertEvent(ctx, db, name, nil, false)
	})
}

// LogEventWithProperties implements prodact.EventHandler.
func (b *Backend) LogEventWithProperties(_ context.Context, name string, props prodact.Properties, outOfSession bool) {
	data, err := json.Marshal(props)
	if err != nil {
		observability.LogBackendError(b.logger, BackendName, prodact.OpLogEvent, err)
		return
	}
	if props == nil {
		data = []byte("{}")
	}
	b.submit(prodact.OpLogEvent, func(ctx context.Context, db *sql.DB) error {
		return insertEvent(ctx, db, name, data, outOfSession)
	})
}

func insertEvent(ctx context.Context, db *sql.DB, name string, props []byte, outOfSession bool) error {
	var encoded sql.NullString
	if props != nil {
		encoded = sql.NullString{String: string(props), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, name, properties, out_of_session, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), name, encoded, outOfSession, now())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SetUserProperties implements prodact.UserPropertiesHandler.
// Strings are stored as strings even when they look numeric.
func (b *Backend) SetUserProperties(_ context.Context, props prodact.Properties) {
	props = props.Clone()
	b.submit(prodact.OpSetUserProperties, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		for name, v := range props {
			kind, value := profile.ClassifyStrict(v)
			if err := upsert(ctx, tx, name, kind, value, false); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ClearUserProperties implements prodact.UserPropertiesHandler.
func (b *Backend) ClearUserProperties(context.Context) {
	b.submit(prodact.OpClearUserProperties, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM user_properties`); err != nil {
			return fmt.Errorf("clear user properties: %w", err)
		}
		return nil
	})
}

// Set implements prodact.UserPropertiesHandler.
// A WriteOnce key is only written when its representation is undefined.
func (b *Backend) Set(_ context.Context, key prodact.PropertyKey, value any) {
	kind, stored := profile.Classify(value)
	once := key.Mutability == prodact.WriteOnce
	b.submit(prodact.OpSet, func(ctx context.Context, db *sql.DB) error {
		return upsert(ctx, db, key.Name, kind, stored, once)
	})
}

// Add implements prodact.UserPropertiesHandler.
// Non-numeric values apply a zero delta and log a warning.
func (b *Backend) Add(_ context.Context, key prodact.PropertyKey, value any) {
	delta, ok := profile.Delta(value)
	if !ok && b.logger != nil {
		b.logger.Warn("add only supports numeric values",
			slog.String("backend", BackendName),
			slog.String("key", key.Name),
			slog.Any("value", value),
		)
	}
	b.submit(prodact.OpAdd, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO user_properties (name, kind, value, sequence, updated_at)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM user_properties), ?)
			ON CONFLICT(name, kind) DO UPDATE SET
				value = value + excluded.value,
				sequence = excluded.sequence,
				updated_at = excluded.updated_at
		`, key.Name, string(profile.KindNumber), delta, now())
		if err != nil {
			return fmt.Errorf("add user property: %w", err)
		}
		return nil
	})
}

// Unset implements prodact.UserPropertiesHandler.
func (b *Backend) Unset(_ context.Context, key prodact.PropertyKey) {
	b.submit(prodact.OpUnset, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM user_properties WHERE name = ?`, key.Name); err != nil {
			return fmt.Errorf("unset user property: %w", err)
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, name string, kind profile.Kind, value any, once bool) error {
	conflict := `DO UPDATE SET
		value = excluded.value,
		sequence = excluded.sequence,
		updated_at = excluded.updated_at`
	if once {
		conflict = `DO NOTHING`
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_properties (name, kind, value, sequence, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM user_properties), ?)
		ON CONFLICT(name, kind) `+conflict,
		name, string(kind), value, now())
	if err != nil {
		return fmt.Errorf("set user property %q: %w", name, err)
	}
	return nil
}

// submit queues fn on the worker. Calls before Configure or after Close are dropped.
func (b *Backend) submit(op string, fn func(ctx context.Context, db *sql.DB) error) {
	b.mu.RLock()
	db, worker, closed := b.db, b.worker, b.closed
	b.mu.RUnlock()

	if worker == nil || closed {
		if b.logger != nil {
			b.logger.Warn("analytics call dropped",
				slog.String("backend", BackendName),
				slog.String("op", op),
				slog.Bool("closed", closed),
			)
		}
		return
	}

	worker.Submit(op, func() {
		if err := fn(context.Background(), db); err != nil {
			observability.LogBackendError(b.logger, BackendName, op, err)
		}
	})
}

func (b *Backend) logDrop(op string, pending int) {
	if b.logger == nil {
		return
	}
	b.logger.Warn("analytics write queue full, call dropped",
		slog.String("backend", BackendName),
		slog.String("op", op),
		slog.Int("pending", pending),
	)
}

// Flush waits until every call made before Flush has been written.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.RLock()
	worker, closed := b.worker, b.closed
	b.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if worker == nil {
		return nil
	}
	return worker.Flush(ctx)
}

// Close writes pending calls and closes the database. Close is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	db, worker := b.db, b.worker
	b.mu.Unlock()

	if worker != nil {
		worker.Close()
	}
	if db != nil {
		return db.Close()
	}
	return nil
}

func (b *Backend) readDB() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.db == nil {
		return nil, ErrNotConfigured
	}
	return b.db, nil
}

// Events returns every stored event in insertion order.
// Call Flush first to include pending writes.
func (b *Backend) Events(ctx context.Context) ([]Event, error) {
	db, err := b.readDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, properties, out_of_session, timestamp
		FROM events
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var props sql.NullString
		var timestamp string
		if err := rows.Scan(&e.ID, &e.Name, &props, &e.OutOfSession, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if props.Valid {
			decoded, err := encoding.Encode(json.RawMessage(props.String))
			if err != nil {
				return nil, fmt.Errorf("decode event %s properties: %w", e.ID, err)
			}
			e.Properties = decoded
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Property returns the most recently written representation of name.
// Call Flush first to include pending writes.
func (b *Backend) Property(ctx context.Context, name string) (any, bool, error) {
	db, err := b.readDB()
	if err != nil {
		return nil, false, err
	}

	var kind string
	var raw any
	err = db.QueryRowContext(ctx, `
		SELECT kind, value FROM user_properties
		WHERE name = ?
		ORDER BY sequence DESC
		LIMIT 1
	`, name).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load user property: %w", err)
	}
	return decodeValue(profile.Kind(kind), raw), true, nil
}

// Attribute returns the value stored for name under one representation.
func (b *Backend) Attribute(ctx context.Context, name string, kind profile.Kind) (any, bool, error) {
	db, err := b.readDB()
	if err != nil {
		return nil, false, err
	}

	var raw any
	err = db.QueryRowContext(ctx, `
		SELECT value FROM user_properties
		WHERE name = ? AND kind = ?
	`, name, string(kind)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load user property: %w", err)
	}
	return decodeValue(kind, raw), true, nil
}

// decodeValue converts a scanned column back to the kind's Go type.
func decodeValue(kind profile.Kind, raw any) any {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch kind {
	case profile.KindNumber:
		switch v := raw.(type) {
		case int64:
			return float64(v)
		case float64:
			return v
		}
	case profile.KindBool:
		switch v := raw.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	case profile.KindString:
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return raw
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var (
	_ prodact.EventHandler          = (*Backend)(nil)
	_ prodact.UserPropertiesHandler = (*Backend)(nil)
)
