package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/logging"
)

// Compile-time check that BadgerStore satisfies Store.
var _ Store = (*BadgerStore)(nil)

const backendBadger = "badger"

// Key layout:
//
//	e/<key>                  JSON-encoded CodeEntity
//	o/<src>\x00<type>\x00<dst>  forward edge, empty value
//	i/<dst>\x00<type>\x00<src>  reverse index, empty value
var (
	prefixEntity  = []byte("e/")
	prefixForward = []byte("o/")
	prefixReverse = []byte("i/")
)

const sep = "\x00"

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own diagnostics. Nil disables them.
	Logger logrus.FieldLogger
}

// BadgerStore implements Store on an embedded badger key-value database.
// Each write operation is one badger transaction.
type BadgerStore struct {
	db     *badger.DB
	logger logrus.FieldLogger
}

// badgerLogger adapts logrus to badger's Logger, demoting badger's info
// chatter to debug.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// NewBadgerStore opens a badger database with the given configuration.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, entity.WrapStore(backendBadger, "open", errors.New("path is required for persistent database"))
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, entity.WrapStore(backendBadger, "create directory", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.WithField("backend", backendBadger)})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, entity.WrapStore(backendBadger, "open", err)
	}
	return &BadgerStore{db: db, logger: logging.OrDiscard(cfg.Logger)}, nil
}

// NewBadgerMemStore opens an in-memory BadgerStore.
func NewBadgerMemStore() (*BadgerStore, error) {
	return NewBadgerStore(BadgerConfig{InMemory: true})
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	return entity.WrapStore(backendBadger, "close", s.db.Close())
}

// InitSchema is a no-op: badger is schemaless.
func (s *BadgerStore) InitSchema(_ context.Context) error {
	return nil
}

// ---------- Keys ----------

func entityKey(k entity.Key) []byte {
	return append(append([]byte{}, prefixEntity...), k.String()...)
}

func forwardKey(e entity.DependencyEdge) []byte {
	return []byte(string(prefixForward) + e.Source.String() + sep + string(e.Type) + sep + e.Target.String())
}

func reverseKey(e entity.DependencyEdge) []byte {
	return []byte(string(prefixReverse) + e.Target.String() + sep + string(e.Type) + sep + e.Source.String())
}

// decodeEdgeKey parses a forward or reverse index key back into an edge.
func decodeEdgeKey(raw []byte) (entity.DependencyEdge, error) {
	reverse := bytes.HasPrefix(raw, prefixReverse)
	parts := bytes.Split(raw[len(prefixForward):], []byte(sep))
	if len(parts) != 3 {
		return entity.DependencyEdge{}, fmt.Errorf("malformed edge key %q", raw)
	}
	first, err := entity.ParseKey(string(parts[0]))
	if err != nil {
		return entity.DependencyEdge{}, err
	}
	second, err := entity.ParseKey(string(parts[2]))
	if err != nil {
		return entity.DependencyEdge{}, err
	}
	e := entity.DependencyEdge{Source: first, Target: second, Type: entity.EdgeType(parts[1])}
	if reverse {
		e.Source, e.Target = second, first
	}
	return e, nil
}

// ---------- Entities ----------

// PutEntity validates and replaces the stored record.
func (s *BadgerStore) PutEntity(ctx context.Context, e entity.CodeEntity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.update(ctx, "put entity", func(txn *badger.Txn) error {
		return putEntityTxn(txn, e)
	})
}

func putEntityTxn(txn *badger.Txn, e entity.CodeEntity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	return txn.Set(entityKey(e.Key), data)
}

// GetEntity loads one entity.
func (s *BadgerStore) GetEntity(ctx context.Context, key entity.Key) (*entity.CodeEntity, error) {
	var out entity.CodeEntity
	err := s.view(ctx, "get entity", func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &entity.NotFoundError{Key: key}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEntity removes the entity and both directions of every edge
// touching it.
func (s *BadgerStore) DeleteEntity(ctx context.Context, key entity.Key) error {
	return s.update(ctx, "delete entity", func(txn *badger.Txn) error {
		return deleteEntityTxn(txn, key)
	})
}

func deleteEntityTxn(txn *badger.Txn, key entity.Key) error {
	if err := txn.Delete(entityKey(key)); err != nil {
		return err
	}
	var touching []entity.DependencyEdge
	for _, prefix := range [][]byte{prefixForward, prefixReverse} {
		edges, err := scanEdges(txn, append(append([]byte{}, prefix...), key.String()+sep...))
		if err != nil {
			return err
		}
		touching = append(touching, edges...)
	}
	for _, e := range touching {
		if err := txn.Delete(forwardKey(e)); err != nil {
			return err
		}
		if err := txn.Delete(reverseKey(e)); err != nil {
			return err
		}
	}
	return nil
}

// ListEntities iterates the entity prefix in key order.
func (s *BadgerStore) ListEntities(ctx context.Context, proj Projection) ([]entity.CodeEntity, error) {
	var out []entity.CodeEntity
	err := s.view(ctx, "list entities", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEntity
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entity.CodeEntity
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			proj.Apply(&e)
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntities(out)
	return out, nil
}

// ---------- Edges ----------

// AddEdges writes forward and reverse keys. Re-setting an existing key is a
// no-op in effect, which makes the insert idempotent.
func (s *BadgerStore) AddEdges(ctx context.Context, edges []entity.DependencyEdge) error {
	if err := validateEdges(edges); err != nil {
		return err
	}
	return s.update(ctx, "add edges", func(txn *badger.Txn) error {
		return addEdgesTxn(txn, edges)
	})
}

func addEdgesTxn(txn *badger.Txn, edges []entity.DependencyEdge) error {
	for _, e := range edges {
		if err := txn.Set(forwardKey(e), nil); err != nil {
			return err
		}
		if err := txn.Set(reverseKey(e), nil); err != nil {
			return err
		}
	}
	return nil
}

// ListEdges scans the forward index.
func (s *BadgerStore) ListEdges(ctx context.Context) ([]entity.DependencyEdge, error) {
	return s.edgesWithPrefix(ctx, "list edges", prefixForward)
}

// EdgesFrom scans forward keys prefixed by the source key.
func (s *BadgerStore) EdgesFrom(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.edgesWithPrefix(ctx, "edges from", append(append([]byte{}, prefixForward...), key.String()+sep...))
}

// EdgesTo scans the reverse index prefixed by the target key.
func (s *BadgerStore) EdgesTo(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return s.edgesWithPrefix(ctx, "edges to", append(append([]byte{}, prefixReverse...), key.String()+sep...))
}

func (s *BadgerStore) edgesWithPrefix(ctx context.Context, op string, prefix []byte) ([]entity.DependencyEdge, error) {
	var out []entity.DependencyEdge
	err := s.view(ctx, op, func(txn *badger.Txn) error {
		edges, err := scanEdges(txn, prefix)
		out = edges
		return err
	})
	if err != nil {
		return nil, err
	}
	sortEdges(out)
	return out, nil
}

func scanEdges(txn *badger.Txn, prefix []byte) ([]entity.DependencyEdge, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []entity.DependencyEdge
	for it.Rewind(); it.Valid(); it.Next() {
		e, err := decodeEdgeKey(it.Item().KeyCopy(nil))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ---------- Batches ----------

// CommitBatch applies the batch in one read-write transaction. Badger
// discards the transaction on any error, so partial batches never land.
func (s *BadgerStore) CommitBatch(ctx context.Context, b Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return s.update(ctx, "commit batch", func(txn *badger.Txn) error {
		for _, k := range b.Deletes {
			if err := deleteEntityTxn(txn, k); err != nil {
				return err
			}
		}
		for i := range b.Upserts {
			if err := putEntityTxn(txn, b.Upserts[i]); err != nil {
				return err
			}
		}
		return addEdgesTxn(txn, b.Edges)
	})
}

// Reset drops every key.
func (s *BadgerStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendBadger, "reset", err)
	}
	if err := s.db.DropAll(); err != nil {
		return entity.WrapStore(backendBadger, "reset", err)
	}
	s.logger.WithField("backend", backendBadger).Debug("store reset")
	return nil
}

// Stats counts entities and edges by scanning their prefixes.
func (s *BadgerStore) Stats(ctx context.Context) (*Stats, error) {
	entities, err := s.ListEntities(ctx, OmitCode)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(backendBadger, entities, edges), nil
}

// ---------- Internal helpers ----------

func (s *BadgerStore) view(ctx context.Context, op string, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendBadger, op, err)
	}
	return entity.WrapStore(backendBadger, op, s.db.View(fn))
}

func (s *BadgerStore) update(ctx context.Context, op string, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendBadger, op, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
	return entity.WrapStore(backendBadger, op, err)
}
