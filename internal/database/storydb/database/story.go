package database

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fable-games/fable/internal/cache"
	"github.com/fable-games/fable/internal/database"
	"github.com/fable-games/fable/internal/database/storydb/model"
	bolt "go.etcd.io/bbolt"
)

const prefix = "stories"

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrBucketNotFound = fmt.Errorf("bucket not found")
)

func New(db *database.DB, cache cache.Cache) *DB {
	return &DB{sDB: db, cache: cache}
}

type DB struct {
	sDB *database.DB

	cache cache.Cache
}

// Add stores one finished-story record, keyed by its id.
func (db *DB) Add(m model.Record) error {
	tx, err := db.sDB.DB.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	defer tx.Rollback() // nolint

	b := tx.Bucket([]byte(prefix))
	if b == nil {
		bs, err := tx.CreateBucket([]byte(prefix))
		if err != nil {
			return fmt.Errorf("can not create bucket: %w", err)
		}
		b = bs
	}

	bytes, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if err := b.Put([]byte(m.ID), bytes); err != nil {
		return fmt.Errorf("put to bucket error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	db.cache.Delete(db.narratorKey(m.Narrator))

	return nil
}

func (db *DB) Fetch(id string) (model.Record, error) {
	var record model.Record

	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(prefix))
		if b == nil {
			return ErrNotFound
		}

		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(v, &record); err != nil {
			return fmt.Errorf("json unmarshal error: %w", err)
		}

		return nil
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return record, ErrNotFound
		}
		return record, fmt.Errorf("view transaction error: %w", err)
	}

	return record, nil
}

func (db *DB) FetchAll() ([]model.Record, error) {
	var list []model.Record

	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(prefix))
		if b == nil {
			return ErrBucketNotFound
		}

		if err := b.ForEach(func(k, v []byte) error {
			var record model.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("json unmarshal error: %w", err)
			}
			list = append(list, record)
			return nil
		}); err != nil {
			return fmt.Errorf("bucket for each: %w", err)
		}

		return nil
	}); err != nil {
		if errors.Is(err, ErrBucketNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("view transaction error: %w", err)
	}

	return list, nil
}

// FetchByNarrator returns all stories a user finished as narrator, cached
// until the next Add for that narrator.
func (db *DB) FetchByNarrator(narrator string) ([]model.Record, error) {
	if v, ok := db.cache.Get(db.narratorKey(narrator)); ok {
		if list, ok := v.([]model.Record); ok {
			return list, nil
		}
	}

	all, err := db.FetchAll()
	if err != nil {
		return nil, fmt.Errorf("fetch all: %w", err)
	}

	var list []model.Record
	for _, record := range all {
		if record.Narrator == narrator {
			list = append(list, record)
		}
	}

	db.cache.Add(db.narratorKey(narrator), list)

	return list, nil
}

func (db *DB) narratorKey(narrator string) string {
	return prefix + ":" + narrator
}
