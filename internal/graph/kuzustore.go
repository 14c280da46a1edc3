//go:build cgo

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// KuzuStore implements the Store interface using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
//
// Edges are modelled as DependencyEdge nodes rather than relationships so
// that an edge may point at a key with no Entity node.
type KuzuStore struct {
	mu   sync.Mutex // one connection, one statement at a time
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

const backendKuzu = "kuzu"

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given path. KuzuDB creates the leaf itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, entity.WrapStore(backendKuzu, "create parent directory", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(dbPath string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "open database", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, entity.WrapStore(backendKuzu, "open connection", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema. Code columns
// carry a has_* flag because the driver cannot bind a typed NULL.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Entity(
		id STRING,
		file_path STRING,
		start_line INT64,
		kind STRING,
		name STRING,
		pending BOOLEAN,
		has_current BOOLEAN,
		current_code STRING,
		has_future BOOLEAN,
		future_code STRING,
		body STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS DependencyEdge(
		id STRING,
		source STRING,
		target STRING,
		edge_type STRING,
		PRIMARY KEY(id)
	)`,
}

// InitSchema creates the node tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return entity.WrapStore(backendKuzu, "init schema", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Entities ----------

const mergeEntityCypher = `MERGE (e:Entity {id: $id})
	SET e.file_path = $fp, e.start_line = $sl, e.kind = $kind, e.name = $name,
		e.pending = $pending, e.has_current = $hc, e.current_code = $cc,
		e.has_future = $hf, e.future_code = $fc, e.body = $body`

func entityParams(e entity.CodeEntity) (map[string]any, error) {
	bare := e
	bare.CurrentCode, bare.FutureCode = nil, nil
	body, err := json.Marshal(bare)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	p := map[string]any{
		"id":      e.Key.String(),
		"fp":      e.FilePath,
		"sl":      int64(e.StartLine()),
		"kind":    string(e.Kind),
		"name":    e.Name,
		"pending": e.Temporal.Pending(),
		"hc":      e.CurrentCode != nil,
		"cc":      "",
		"hf":      e.FutureCode != nil,
		"fc":      "",
		"body":    string(body),
	}
	if e.CurrentCode != nil {
		p["cc"] = *e.CurrentCode
	}
	if e.FutureCode != nil {
		p["fc"] = *e.FutureCode
	}
	return p, nil
}

// PutEntity validates and merges the Entity node.
func (s *KuzuStore) PutEntity(ctx context.Context, e entity.CodeEntity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	params, err := entityParams(e)
	if err != nil {
		return entity.WrapStore(backendKuzu, "put entity", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.WrapStore(backendKuzu, "put entity", s.exec(ctx, mergeEntityCypher, params))
}

const entityColumns = `e.body, e.has_current, e.current_code, e.has_future, e.future_code`

// GetEntity returns the Entity node with the given key.
func (s *KuzuStore) GetEntity(ctx context.Context, key entity.Key) (*entity.CodeEntity, error) {
	s.mu.Lock()
	rows, err := s.query(ctx, "MATCH (e:Entity {id: $id}) RETURN "+entityColumns,
		map[string]any{"id": key.String()})
	s.mu.Unlock()
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "get entity", err)
	}
	if len(rows) == 0 {
		return nil, &entity.NotFoundError{Key: key}
	}
	e, err := rowToEntity(rows[0], 0)
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "get entity", err)
	}
	return &e, nil
}

// DeleteEntity removes the node and every edge node touching it.
func (s *KuzuStore) DeleteEntity(ctx context.Context, key entity.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.WrapStore(backendKuzu, "delete entity", s.inTx(ctx, func() error {
		return s.deleteEntity(ctx, key)
	}))
}

func (s *KuzuStore) deleteEntity(ctx context.Context, key entity.Key) error {
	params := map[string]any{"id": key.String()}
	if err := s.exec(ctx, "MATCH (e:Entity {id: $id}) DELETE e", params); err != nil {
		return err
	}
	return s.exec(ctx, "MATCH (d:DependencyEdge) WHERE d.source = $id OR d.target = $id DELETE d", params)
}

// ListEntities returns every entity. Projected-away code columns are not
// fetched.
func (s *KuzuStore) ListEntities(ctx context.Context, proj Projection) ([]entity.CodeEntity, error) {
	cols := entityColumns
	if proj&OmitCurrentCode != 0 {
		cols = `e.body, false, "", e.has_future, e.future_code`
	}
	if proj&OmitFutureCode != 0 {
		if proj&OmitCurrentCode != 0 {
			cols = `e.body, false, "", false, ""`
		} else {
			cols = `e.body, e.has_current, e.current_code, false, ""`
		}
	}
	s.mu.Lock()
	rows, err := s.query(ctx, "MATCH (e:Entity) RETURN "+cols+" ORDER BY e.id", nil)
	s.mu.Unlock()
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "list entities", err)
	}
	out := make([]entity.CodeEntity, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntity(r, 0)
		if err != nil {
			return nil, entity.WrapStore(backendKuzu, "list entities", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// rowToEntity decodes five columns starting at off:
// body, has_current, current_code, has_future, future_code.
func rowToEntity(r []any, off int) (entity.CodeEntity, error) {
	var e entity.CodeEntity
	if err := json.Unmarshal([]byte(toString(r[off])), &e); err != nil {
		return e, fmt.Errorf("decode entity: %w", err)
	}
	if toBool(r[off+1]) {
		e.CurrentCode = entity.Code(toString(r[off+2]))
	}
	if toBool(r[off+3]) {
		e.FutureCode = entity.Code(toString(r[off+4]))
	}
	return e, nil
}

// ---------- Edges ----------

// AddEdges merges one DependencyEdge node per edge, keyed by edge ID.
func (s *KuzuStore) AddEdges(ctx context.Context, edges []entity.DependencyEdge) error {
	if err := validateEdges(edges); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.WrapStore(backendKuzu, "add edges", s.inTx(ctx, func() error {
		return s.mergeEdges(ctx, edges)
	}))
}

func (s *KuzuStore) mergeEdges(ctx context.Context, edges []entity.DependencyEdge) error {
	for _, e := range edges {
		err := s.exec(ctx,
			`MERGE (d:DependencyEdge {id: $id})
			 SET d.source = $src, d.target = $dst, d.edge_type = $type`,
			map[string]any{
				"id":   e.ID(),
				"src":  e.Source.String(),
				"dst":  e.Target.String(),
				"type": string(e.Type),
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// ListEdges returns every edge.
func (s *KuzuStore) ListEdges(ctx context.Context) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "list edges",
		"MATCH (d:DependencyEdge) RETURN d.source, d.edge_type, d.target", nil)
}

// EdgesFrom returns edges whose source is key.
func (s *KuzuStore) EdgesFrom(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "edges from",
		"MATCH (d:DependencyEdge) WHERE d.source = $id RETURN d.source, d.edge_type, d.target",
		map[string]any{"id": key.String()})
}

// EdgesTo returns edges whose target is key.
func (s *KuzuStore) EdgesTo(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.selectEdges(ctx, "edges to",
		"MATCH (d:DependencyEdge) WHERE d.target = $id RETURN d.source, d.edge_type, d.target",
		map[string]any{"id": key.String()})
}

func (s *KuzuStore) selectEdges(ctx context.Context, op, cypher string, params map[string]any) ([]entity.DependencyEdge, error) {
	s.mu.Lock()
	rows, err := s.query(ctx, cypher, params)
	s.mu.Unlock()
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, op, err)
	}
	out := make([]entity.DependencyEdge, 0, len(rows))
	for _, r := range rows {
		src, err := entity.ParseKey(toString(r[0]))
		if err != nil {
			return nil, entity.WrapStore(backendKuzu, op, err)
		}
		dst, err := entity.ParseKey(toString(r[2]))
		if err != nil {
			return nil, entity.WrapStore(backendKuzu, op, err)
		}
		out = append(out, entity.DependencyEdge{Source: src, Target: dst, Type: entity.EdgeType(toString(r[1]))})
	}
	sortEdges(out)
	return out, nil
}

// ---------- Batches ----------

// CommitBatch applies the batch between BEGIN TRANSACTION and COMMIT.
func (s *KuzuStore) CommitBatch(ctx context.Context, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.WrapStore(backendKuzu, "commit batch", s.inTx(ctx, func() error {
		for _, k := range b.Deletes {
			if err := s.deleteEntity(ctx, k); err != nil {
				return err
			}
		}
		for i := range b.Upserts {
			params, err := entityParams(b.Upserts[i])
			if err != nil {
				return err
			}
			if err := s.exec(ctx, mergeEntityCypher, params); err != nil {
				return err
			}
		}
		return s.mergeEdges(ctx, b.Edges)
	}))
}

// Reset deletes every node of both tables.
func (s *KuzuStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.WrapStore(backendKuzu, "reset", s.inTx(ctx, func() error {
		if err := s.exec(ctx, "MATCH (d:DependencyEdge) DELETE d", nil); err != nil {
			return err
		}
		return s.exec(ctx, "MATCH (e:Entity) DELETE e", nil)
	}))
}

// ---------- Stats ----------

// Stats aggregates with Cypher count queries.
func (s *KuzuStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{
		Backend:        backendKuzu,
		EdgesByType:    make(map[entity.EdgeType]int),
		EntitiesByKind: make(map[entity.Kind]int),
	}
	rows, err := s.query(ctx, "MATCH (e:Entity) RETURN e.kind, count(e)", nil)
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "stats", err)
	}
	for _, r := range rows {
		n := toInt(r[1])
		st.EntitiesByKind[entity.Kind(toString(r[0]))] = n
		st.EntityCount += n
	}
	rows, err = s.query(ctx, "MATCH (e:Entity) WHERE e.pending RETURN count(e)", nil)
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "stats", err)
	}
	if len(rows) > 0 {
		st.PendingCount = toInt(rows[0][0])
	}
	rows, err = s.query(ctx, "MATCH (d:DependencyEdge) RETURN d.edge_type, count(d)", nil)
	if err != nil {
		return nil, entity.WrapStore(backendKuzu, "stats", err)
	}
	for _, r := range rows {
		n := toInt(r[1])
		st.EdgesByType[entity.EdgeType(toString(r[0]))] = n
		st.EdgeCount += n
	}
	return st, nil
}

// ---------- Internal helpers ----------

// inTx wraps fn in an explicit transaction. The caller holds s.mu.
func (s *KuzuStore) inTx(ctx context.Context, fn func() error) error {
	if err := s.exec(ctx, "BEGIN TRANSACTION", nil); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = s.exec(context.Background(), "ROLLBACK", nil)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = s.exec(context.Background(), "ROLLBACK", nil)
		return err
	}
	return s.exec(ctx, "COMMIT", nil)
}

// exec runs a Cypher statement that produces no result rows. Statements
// without parameters bypass Prepare.
func (s *KuzuStore) exec(ctx context.Context, cypher string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(params) == 0 {
		res, err := s.conn.Query(cypher)
		if err != nil {
			return fmt.Errorf("kuzu: query: %w", err)
		}
		res.Close()
		return nil
	}
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(ctx context.Context, cypher string, params map[string]any) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
