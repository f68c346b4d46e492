package database

import (
	"context"
	"fmt"

	"github.com/fable-games/fable/internal/logging"
	bolt "go.etcd.io/bbolt"
)

type Config struct {
	// Path of the bolt file holding finished-story records
	FilePath string `envconfig:"FABLE_DB_FILE_PATH" default:"fable.db"`
}

type DB struct {
	DB *bolt.DB
}

// NewFromEnv opens the bolt file named by config.
func NewFromEnv(ctx context.Context, config *Config) (*DB, error) {
	logger := logging.FromContext(ctx)
	logger.Infof("opening db %s", config.FilePath)

	db, err := bolt.Open(config.FilePath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	return &DB{DB: db}, nil
}

func (db *DB) Close(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Infof("closing db")

	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing db: %w", err)
	}

	return nil
}
