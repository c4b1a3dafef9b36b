// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog persists the last-known identity of every instance
// directory in an embedded BadgerDB, so identities survive process restarts.
//
// Records are JSON values under "instance/<absolute directory>".
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "instance/"

// Record is what the catalog knows about one instance directory.
type Record struct {
	Name      string `json:"name"`
	Directory string `json:"directory"`
	Identity  string `json:"identity"`

	// LastLoadedAt is the last successful load (Unix milliseconds UTC).
	LastLoadedAt int64 `json:"last_loaded_at"`
}

// Catalog stores Records keyed by directory.
//
// Thread Safety: Safe for concurrent use.
type Catalog struct {
	db       *badger.DB
	gc       *gcRunner
	path     string
	inMemory bool
}

// Open opens the catalog and starts value log GC when configured.
//
// # Inputs
//
//   - cfg: Database configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Catalog: Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Catalog, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	c := &Catalog{db: db, path: cfg.Path, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		c.gc = runner
		runner.start()
	}
	return c, nil
}

// Close stops GC and closes the database.
func (c *Catalog) Close() error {
	if c.gc != nil {
		c.gc.stop()
	}
	return c.db.Close()
}

// Path returns the database path, or empty for in-memory catalogs.
func (c *Catalog) Path() string { return c.path }

// Put stores rec, replacing any record for the same directory.
func (c *Catalog) Put(ctx context.Context, rec Record) error {
	key, err := recordKey(rec.Directory)
	if err != nil {
		return err
	}
	rec.Directory = string(key[len(keyPrefix):])
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return withTxn(ctx, c.db, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Get returns the record for dir.
func (c *Catalog) Get(ctx context.Context, dir string) (Record, bool, error) {
	key, err := recordKey(dir)
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	found := false
	err = withReadTxn(ctx, c.db, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("reading record for %s: %w", dir, err)
	}
	return rec, found, nil
}

// Delete removes the record for dir. Deleting a missing record is not an error.
func (c *Catalog) Delete(ctx context.Context, dir string) error {
	key, err := recordKey(dir)
	if err != nil {
		return err
	}
	return withTxn(ctx, c.db, func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// List returns all records sorted by directory.
func (c *Catalog) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := withReadTxn(ctx, c.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Directory < out[j].Directory })
	return out, nil
}

func recordKey(dir string) ([]byte, error) {
	if dir == "" {
		return nil, errors.New("record directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	return []byte(keyPrefix + filepath.ToSlash(abs)), nil
}
