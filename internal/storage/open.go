package storage

import (
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/harvest/internal/errors"
)

// Open returns the store selected by storageType ("sqlite" or "postgres")
func Open(storageType, postgresDSN, localPath string, logger *logrus.Logger) (Store, error) {
	switch storageType {
	case "", "sqlite":
		if localPath == "" {
			return nil, errors.ConfigError("storage.local_path is required for sqlite storage")
		}
		return NewSQLiteStore(localPath, logger)
	case "postgres":
		if postgresDSN == "" {
			return nil, errors.ConfigError("storage.postgres_dsn is required for postgres storage")
		}
		return NewPostgresStore(postgresDSN, logger)
	default:
		return nil, errors.ConfigErrorf("unknown storage type %q (want sqlite or postgres)", storageType)
	}
}
