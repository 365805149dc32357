// Package localstore is the embedded local side of the sync pair: a SQLite
// database holding generic table records plus the durable offline queue
// snapshot. It satisfies both the engine's Accessor and QueueStore
// boundaries.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// ErrMissingID is returned when a mutation lacks the id field.
var ErrMissingID = errors.New("localstore: record has no id field")

// Store executes reads and writes against the embedded SQLite database. All
// records are stored as JSON in a single generic table keyed by (logical
// table, record id).
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements
}

// Prepared statements for repeated queries.
type statements struct {
	upsert, delete, byTable, byID, byOwner *sql.Stmt
	queueSave, queueLoad                   *sql.Stmt
}

// Open creates a Store at dbPath, applying migrations and preparing
// statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening local store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("localstore: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: prepare statements: %w", err)
	}

	return s, nil
}

// applySchema brings the database up to the current schema version with the
// embedded goose migrations, as part of Open.
func applySchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sources, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("localstore: embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sources)
	if err != nil {
		return fmt.Errorf("localstore: migration provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("localstore: migrating schema: %w", err)
	}

	if len(applied) > 0 {
		logger.Info("schema migrated",
			slog.Int("applied", len(applied)),
			slog.String("latest", applied[len(applied)-1].Source.Path),
		)
	}

	return nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("localstore: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlUpsertRecord = `INSERT INTO records (tbl, id, owner_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tbl, id) DO UPDATE SET
			owner_id   = excluded.owner_id,
			data       = excluded.data,
			updated_at = excluded.updated_at`

	sqlDeleteRecord = `DELETE FROM records WHERE tbl = ? AND id = ?`

	sqlSelectByTable = `SELECT data FROM records WHERE tbl = ? ORDER BY id`

	sqlSelectByID = `SELECT data FROM records WHERE tbl = ? AND id = ?`

	sqlSelectByOwner = `SELECT data FROM records WHERE tbl = ? AND owner_id = ? ORDER BY id`

	sqlSaveQueue = `INSERT INTO queue_snapshot (id, data, saved_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data     = excluded.data,
			saved_at = excluded.saved_at`

	sqlLoadQueue = `SELECT data FROM queue_snapshot WHERE id = 1`
)

func (s *Store) prepareStatements(ctx context.Context) error {
	prep := func(dst **sql.Stmt, query string) error {
		stmt, err := s.db.PrepareContext(ctx, query)
		if err != nil {
			return err
		}

		*dst = stmt

		return nil
	}

	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmts.upsert, sqlUpsertRecord},
		{&s.stmts.delete, sqlDeleteRecord},
		{&s.stmts.byTable, sqlSelectByTable},
		{&s.stmts.byID, sqlSelectByID},
		{&s.stmts.byOwner, sqlSelectByOwner},
		{&s.stmts.queueSave, sqlSaveQueue},
		{&s.stmts.queueLoad, sqlLoadQueue},
	} {
		if err := prep(p.dst, p.query); err != nil {
			return err
		}
	}

	return nil
}

// Query returns the rows of table matching the equality filters in params.
// Filters on id and ownerId are pushed into SQL; any remaining filters are
// applied to the decoded records.
func (s *Store) Query(ctx context.Context, table string, params map[string]any) ([]engine.Record, error) {
	rows, err := s.queryRows(ctx, table, params)
	if err != nil {
		return nil, fmt.Errorf("localstore: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []engine.Record

	for rows.Next() {
		var raw string

		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("localstore: scanning %s row: %w", table, err)
		}

		var rec engine.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("localstore: decoding %s row: %w", table, err)
		}

		if engine.Predicate(params).Matches(rec) {
			out = append(out, rec)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: iterating %s rows: %w", table, err)
	}

	return out, nil
}

func (s *Store) queryRows(ctx context.Context, table string, params map[string]any) (*sql.Rows, error) {
	if id, ok := params["id"].(string); ok {
		return s.stmts.byID.QueryContext(ctx, table, id)
	}

	if owner, ok := params["ownerId"].(string); ok {
		return s.stmts.byOwner.QueryContext(ctx, table, owner)
	}

	return s.stmts.byTable.QueryContext(ctx, table)
}

// Execute applies a single mutation. Inserts and updates are both upserts:
// remote change notifications and optimistic rollbacks may legitimately
// write a record that does or does not already exist.
func (s *Store) Execute(ctx context.Context, table string, op engine.OperationType, data engine.Record) (engine.Record, error) {
	id := engine.RecordID(data)
	if id == "" {
		return nil, ErrMissingID
	}

	switch op {
	case engine.OpInsert, engine.OpUpdate:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("localstore: encoding %s record: %w", table, err)
		}

		_, err = s.stmts.upsert.ExecContext(ctx, table, id, engine.RecordOwner(data), string(raw), time.Now().UnixNano())
		if err != nil {
			return nil, fmt.Errorf("localstore: %s on %s: %w", op, table, err)
		}

		return engine.CloneRecord(data), nil

	case engine.OpDelete:
		if _, err := s.stmts.delete.ExecContext(ctx, table, id); err != nil {
			return nil, fmt.Errorf("localstore: delete on %s: %w", table, err)
		}

		return engine.Record{"id": id}, nil

	default:
		return nil, fmt.Errorf("localstore: unknown operation %q on %s", op, table)
	}
}

// SaveQueue persists the full queue snapshot, replacing any previous one.
func (s *Store) SaveQueue(ctx context.Context, snap engine.QueueSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("localstore: encoding queue snapshot: %w", err)
	}

	if _, err := s.stmts.queueSave.ExecContext(ctx, string(raw), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("localstore: saving queue snapshot: %w", err)
	}

	return nil
}

// LoadQueue restores the persisted queue snapshot. A store that has never
// saved one returns an empty snapshot.
func (s *Store) LoadQueue(ctx context.Context) (engine.QueueSnapshot, error) {
	var raw string

	err := s.stmts.queueLoad.QueryRowContext(ctx).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.QueueSnapshot{}, nil
	}

	if err != nil {
		return engine.QueueSnapshot{}, fmt.Errorf("localstore: loading queue snapshot: %w", err)
	}

	var snap engine.QueueSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return engine.QueueSnapshot{}, fmt.Errorf("localstore: decoding queue snapshot: %w", err)
	}

	return snap, nil
}

// Close releases prepared statements and the database connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmts.upsert, s.stmts.delete, s.stmts.byTable, s.stmts.byID,
		s.stmts.byOwner, s.stmts.queueSave, s.stmts.queueLoad,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}
