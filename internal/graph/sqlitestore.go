//go:build cgo

package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/logging"
)

// Compile-time check that SQLiteStore satisfies Store.
var _ Store = (*SQLiteStore)(nil)

const backendSQLite = "sqlite"

// SQLiteStore implements Store on a SQLite database through sqlx.
type SQLiteStore struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives
// a private in-memory database.
func NewSQLiteStore(path string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, entity.WrapStore(backendSQLite, "create database directory", err)
		}
		dsn = "file:" + path + "?_foreign_keys=on&_journal_mode=WAL"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, entity.WrapStore(backendSQLite, "connect", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers the same way for file databases.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, logger: logging.OrDiscard(logger)}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return entity.WrapStore(backendSQLite, "close", s.db.Close())
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_key   TEXT PRIMARY KEY,
	file_path    TEXT NOT NULL,
	start_line   INTEGER NOT NULL DEFAULT 0,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL,
	pending      INTEGER NOT NULL DEFAULT 0,
	current_code TEXT,
	future_code  TEXT,
	body         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_path, start_line);

CREATE TABLE IF NOT EXISTS dependency_edges (
	source_key TEXT NOT NULL,
	edge_type  TEXT NOT NULL,
	target_key TEXT NOT NULL,
	PRIMARY KEY (source_key, edge_type, target_key)
);

CREATE INDEX IF NOT EXISTS idx_edges_target ON dependency_edges(target_key);
`

// InitSchema creates the tables if they do not exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return entity.WrapStore(backendSQLite, "init schema", err)
}

// entityRow is the flattened row form. Code lives in its own columns so
// projections can skip reading it; body holds everything else as JSON.
type entityRow struct {
	Key         string         `db:"entity_key"`
	FilePath    string         `db:"file_path"`
	StartLine   int            `db:"start_line"`
	Kind        string         `db:"kind"`
	Name        string         `db:"name"`
	Pending     bool           `db:"pending"`
	CurrentCode sql.NullString `db:"current_code"`
	FutureCode  sql.NullString `db:"future_code"`
	Body        string         `db:"body"`
}

func toEntityRow(e entity.CodeEntity) (entityRow, error) {
	bare := e
	bare.CurrentCode, bare.FutureCode = nil, nil
	body, err := json.Marshal(bare)
	if err != nil {
		return entityRow{}, fmt.Errorf("encode entity: %w", err)
	}
	row := entityRow{
		Key:       e.Key.String(),
		FilePath:  e.FilePath,
		StartLine: e.StartLine(),
		Kind:      string(e.Kind),
		Name:      e.Name,
		Pending:   e.Temporal.Pending(),
		Body:      string(body),
	}
	if e.CurrentCode != nil {
		row.CurrentCode = sql.NullString{String: *e.CurrentCode, Valid: true}
	}
	if e.FutureCode != nil {
		row.FutureCode = sql.NullString{String: *e.FutureCode, Valid: true}
	}
	return row, nil
}

func (r entityRow) toEntity() (entity.CodeEntity, error) {
	var e entity.CodeEntity
	if err := json.Unmarshal([]byte(r.Body), &e); err != nil {
		return e, fmt.Errorf("decode entity %s: %w", r.Key, err)
	}
	if r.CurrentCode.Valid {
		e.CurrentCode = entity.Code(r.CurrentCode.String)
	}
	if r.FutureCode.Valid {
		e.FutureCode = entity.Code(r.FutureCode.String)
	}
	return e, nil
}

const upsertEntitySQL = `
INSERT OR REPLACE INTO entities
	(entity_key, file_path, start_line, kind, name, pending, current_code, future_code, body)
VALUES
	(:entity_key, :file_path, :start_line, :kind, :name, :pending, :current_code, :future_code, :body)`

// PutEntity validates and replaces the row.
func (s *SQLiteStore) PutEntity(ctx context.Context, e entity.CodeEntity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	row, err := toEntityRow(e)
	if err != nil {
		return entity.WrapStore(backendSQLite, "put entity", err)
	}
	_, err = s.db.NamedExecContext(ctx, upsertEntitySQL, row)
	return entity.WrapStore(backendSQLite, "put entity", err)
}

// GetEntity loads one row.
func (s *SQLiteStore) GetEntity(ctx context.Context, key entity.Key) (*entity.CodeEntity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM entities WHERE entity_key = ?`, key.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &entity.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, entity.WrapStore(backendSQLite, "get entity", err)
	}
	e, err := row.toEntity()
	if err != nil {
		return nil, entity.WrapStore(backendSQLite, "get entity", err)
	}
	return &e, nil
}

// DeleteEntity removes the row and every edge touching it.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, key entity.Key) error {
	return s.inTx(ctx, "delete entity", func(tx *sqlx.Tx) error {
		return deleteEntityTx(ctx, tx, key)
	})
}

func deleteEntityTx(ctx context.Context, tx *sqlx.Tx, key entity.Key) error {
	k := key.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_key = ?`, k); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM dependency_edges WHERE source_key = ? OR target_key = ?`, k, k)
	return err
}

// ListEntities selects all rows, leaving projected-away code columns unread.
func (s *SQLiteStore) ListEntities(ctx context.Context, proj Projection) ([]entity.CodeEntity, error) {
	cur, fut := "current_code", "future_code"
	if proj&OmitCurrentCode != 0 {
		cur = "NULL AS current_code"
	}
	if proj&OmitFutureCode != 0 {
		fut = "NULL AS future_code"
	}
	q := fmt.Sprintf(`SELECT entity_key, file_path, start_line, kind, name, pending, %s, %s, body
		FROM entities ORDER BY entity_key`, cur, fut)

	var rows []entityRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, entity.WrapStore(backendSQLite, "list entities", err)
	}
	out := make([]entity.CodeEntity, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntity()
		if err != nil {
			return nil, entity.WrapStore(backendSQLite, "list entities", err)
		}
		out = append(out, e)
	}
	return out, nil
}

type edgeRow struct {
	Source string `db:"source_key"`
	Type   string `db:"edge_type"`
	Target string `db:"target_key"`
}

func (r edgeRow) toEdge() (entity.DependencyEdge, error) {
	src, err := entity.ParseKey(r.Source)
	if err != nil {
		return entity.DependencyEdge{}, err
	}
	dst, err := entity.ParseKey(r.Target)
	if err != nil {
		return entity.DependencyEdge{}, err
	}
	return entity.DependencyEdge{Source: src, Target: dst, Type: entity.EdgeType(r.Type)}, nil
}

const insertEdgeSQL = `
INSERT OR IGNORE INTO dependency_edges (source_key, edge_type, target_key)
VALUES (:source_key, :edge_type, :target_key)`

// AddEdges inserts edges; the composite primary key makes duplicates no-ops.
func (s *SQLiteStore) AddEdges(ctx context.Context, edges []entity.DependencyEdge) error {
	if err := validateEdges(edges); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	return s.inTx(ctx, "add edges", func(tx *sqlx.Tx) error {
		return insertEdgesTx(ctx, tx, edges)
	})
}

func insertEdgesTx(ctx context.Context, tx *sqlx.Tx, edges []entity.DependencyEdge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, insertEdgeSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range edges {
		row := edgeRow{Source: e.Source.String(), Type: string(e.Type), Target: e.Target.String()}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// ListEdges returns every edge ordered by ID.
func (s *SQLiteStore) ListEdges(ctx context.Context) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "list edges", `SELECT source_key, edge_type, target_key FROM dependency_edges`)
}

// EdgesFrom selects by source key.
func (s *SQLiteStore) EdgesFrom(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "edges from",
		`SELECT source_key, edge_type, target_key FROM dependency_edges WHERE source_key = ?`, key.String())
}

// EdgesTo selects by target key.
func (s *SQLiteStore) EdgesTo(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "edges to",
		`SELECT source_key, edge_type, target_key FROM dependency_edges WHERE target_key = ?`, key.String())
}

func (s *SQLiteStore) selectEdges(ctx context.Context, op, q string, args ...any) ([]entity.DependencyEdge, error) {
	var rows []edgeRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, entity.WrapStore(backendSQLite, op, err)
	}
	out := make([]entity.DependencyEdge, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEdge()
		if err != nil {
			return nil, entity.WrapStore(backendSQLite, op, err)
		}
		out = append(out, e)
	}
	sortEdges(out)
	return out, nil
}

// CommitBatch applies the batch inside one SQL transaction.
func (s *SQLiteStore) CommitBatch(ctx context.Context, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, "commit batch", func(tx *sqlx.Tx) error {
		for _, k := range b.Deletes {
			if err := deleteEntityTx(ctx, tx, k); err != nil {
				return err
			}
		}
		for i := range b.Upserts {
			row, err := toEntityRow(b.Upserts[i])
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, upsertEntitySQL, row); err != nil {
				return err
			}
		}
		return insertEdgesTx(ctx, tx, b.Edges)
	})
}

// Reset deletes every row from both tables.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.inTx(ctx, "reset", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dependency_edges`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM entities`)
		return err
	})
}

// Stats aggregates in SQL.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Backend:        backendSQLite,
		EdgesByType:    make(map[entity.EdgeType]int),
		EntitiesByKind: make(map[entity.Kind]int),
	}
	var byKind []struct {
		Kind    string `db:"kind"`
		Count   int    `db:"n"`
		Pending int    `db:"pending"`
	}
	if err := s.db.SelectContext(ctx, &byKind,
		`SELECT kind, COUNT(*) AS n, SUM(pending) AS pending FROM entities GROUP BY kind`); err != nil {
		return nil, entity.WrapStore(backendSQLite, "stats", err)
	}
	for _, r := range byKind {
		st.EntitiesByKind[entity.Kind(r.Kind)] = r.Count
		st.EntityCount += r.Count
		st.PendingCount += r.Pending
	}
	var byType []struct {
		Type  string `db:"edge_type"`
		Count int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &byType,
		`SELECT edge_type, COUNT(*) AS n FROM dependency_edges GROUP BY edge_type`); err != nil {
		return nil, entity.WrapStore(backendSQLite, "stats", err)
	}
	for _, r := range byType {
		st.EdgesByType[entity.EdgeType(r.Type)] = r.Count
		st.EdgeCount += r.Count
	}
	return st, nil
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return entity.WrapStore(backendSQLite, op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).WithField("op", op).Warn("sqlite rollback failed")
		}
		return entity.WrapStore(backendSQLite, op, err)
	}
	return entity.WrapStore(backendSQLite, op, tx.Commit())
}
