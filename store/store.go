package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/mitchellh/go-homedir"

	"github.com/eikrem/healthsync/hs"
)

const workoutPrefix = "workout/"

// Store is a BadgerDB-backed workout log and key/value store. It implements
// hs.KeyValue and hs.WorkoutLog.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path. An empty path defaults to
// ~/.healthsync/db.
func Open(path string) (*Store, error) {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".healthsync", "db")
	}

	expandedPath, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand db path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	opts := badger.DefaultOptions(expandedPath).
		WithLogger(nil) // Badger's own logging is too chatty for a CLI

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements hs.KeyValue. A missing key is not an error.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements hs.KeyValue.
func (s *Store) Set(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// LogWorkout implements hs.WorkoutLog. Writing the same workout ID twice
// overwrites the record, so replays after a partial sync are harmless.
func (s *Store) LogWorkout(ctx context.Context, w hs.Workout) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.ID == "" {
		return fmt.Errorf("workout has no id")
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal workout %s: %w", w.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(workoutPrefix+w.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store workout %s: %w", w.ID, err)
	}
	return nil
}

// Workouts returns every stored workout.
func (s *Store) Workouts() ([]hs.Workout, error) {
	var workouts []hs.Workout
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(workoutPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var w hs.Workout
				if err := json.Unmarshal(val, &w); err != nil {
					return fmt.Errorf("corrupt workout %s: %w",
						strings.TrimPrefix(string(item.Key()), workoutPrefix), err)
				}
				workouts = append(workouts, w)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return workouts, nil
}

// WorkoutCount returns the number of stored workouts without loading them.
func (s *Store) WorkoutCount() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(workoutPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
