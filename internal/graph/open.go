package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Opener constructs a backend from configuration.
type Opener func(cfg config.StoreConfig, logger logrus.FieldLogger) (Store, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{
		config.BackendMemory: func(config.StoreConfig, logrus.FieldLogger) (Store, error) {
			return NewMemStore(), nil
		},
		config.BackendBadger: func(cfg config.StoreConfig, logger logrus.FieldLogger) (Store, error) {
			return NewBadgerStore(BadgerConfig{
				Path:       cfg.Path,
				InMemory:   cfg.Path == "",
				SyncWrites: cfg.SyncWrites,
				Logger:     logger,
			})
		},
	}
)

// Register makes a backend available to Open. Backends that need cgo
// register themselves from init.
func Register(name string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = open
}

// Backends lists the registered backend names.
func Backends() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for n := range openers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open constructs the configured backend and initializes its schema.
// An empty backend name selects badger.
func Open(ctx context.Context, cfg config.StoreConfig, logger logrus.FieldLogger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = config.BackendBadger
	}
	openersMu.RLock()
	open, ok := openers[name]
	openersMu.RUnlock()
	if !ok {
		return nil, &entity.StoreError{
			Backend: name,
			Op:      "open",
			Err:     fmt.Errorf("unknown backend (available: %s)", strings.Join(Backends(), ", ")),
		}
	}
	store, err := open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
