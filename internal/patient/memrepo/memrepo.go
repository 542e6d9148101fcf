// Package memrepo provides an in-memory implementation of patient.Repository.
package memrepo

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

// Repo holds patient records in memory. Suitable for dev/testing.
type Repo struct {
	mu      sync.RWMutex
	records map[string]*patient.Record // patient ID -> record
}

// New initializes an empty Repo, optionally pre-populated with records.
func New(records ...*patient.Record) *Repo {
	r := &Repo{records: make(map[string]*patient.Record, len(records))}
	for _, rec := range records {
		cp := *rec
		r.records[rec.ID] = &cp
	}
	return r
}

// Lookup returns a copy of the record stored under id.
func (r *Repo) Lookup(_ context.Context, id string) (*patient.Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// Put stores a copy of the record, replacing any existing one with the same ID.
func (r *Repo) Put(_ context.Context, rec *patient.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("memrepo: record id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

// Len reports how many records are stored.
func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
