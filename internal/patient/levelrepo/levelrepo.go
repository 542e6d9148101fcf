// Package levelrepo provides a LevelDB-backed implementation of
// patient.Repository for single-node deployments without PostgreSQL.
package levelrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

const keyPrefix = "patient/"

// Repo stores patient records as JSON values keyed by patient ID.
type Repo struct {
	db *leveldb.DB
}

// Open opens (or creates) the LevelDB database at path.
func Open(path string) (*Repo, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb open %s: %w", path, err)
	}
	return &Repo{db: db}, nil
}

// Close releases the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Lookup retrieves a record by patient ID.
func (r *Repo) Lookup(_ context.Context, id string) (*patient.Record, bool, error) {
	data, err := r.db.Get(key(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get %q: %w", id, err)
	}

	var rec patient.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode patient %q: %w", id, err)
	}
	return &rec, true, nil
}

// Put writes a record, replacing any existing one with the same ID.
func (r *Repo) Put(_ context.Context, rec *patient.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("levelrepo: record id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode patient %q: %w", rec.ID, err)
	}
	if err := r.db.Put(key(rec.ID), data, nil); err != nil {
		return fmt.Errorf("leveldb put %q: %w", rec.ID, err)
	}
	return nil
}
