//go:build cgo

package graph

import (
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/config"
)

func init() {
	Register(config.BackendSQLite, func(cfg config.StoreConfig, logger logrus.FieldLogger) (Store, error) {
		return NewSQLiteStore(cfg.Path, logger)
	})
	Register(config.BackendKuzu, func(cfg config.StoreConfig, _ logrus.FieldLogger) (Store, error) {
		if cfg.Path == "" {
			return NewKuzuStore()
		}
		return NewKuzuFileStore(cfg.Path)
	})
}
