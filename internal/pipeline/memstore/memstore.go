// Package memstore provides an in-memory implementation of pipeline.CaseStore.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/redress/internal/pipeline"
)

// Store holds case records in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	cases map[string]*pipeline.CaseRecord // case ID -> record
	byKey map[string]string               // alert key -> case ID (dedup)
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		cases: make(map[string]*pipeline.CaseRecord),
		byKey: make(map[string]string),
	}
}

// Get retrieves a case by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*pipeline.CaseRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// GetByAlertKey retrieves the case for an alert identity key. Returns a copy.
func (s *Store) GetByAlertKey(_ context.Context, key string) (*pipeline.CaseRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, false, nil
	}
	return s.cases[id].Clone(), true, nil
}

// Create stores a copy of a new case record at version 1.
func (s *Store) Create(_ context.Context, c *pipeline.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[c.Key()]; exists {
		return pipeline.ErrDuplicateCase
	}
	c.Version = 1
	s.cases[c.ID] = c.Clone()
	s.byKey[c.Key()] = c.ID
	return nil
}

// Update stores a copy if the held version matches, bumping c.Version.
func (s *Store) Update(_ context.Context, c *pipeline.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cases[c.ID]
	if !ok {
		return pipeline.ErrVersionConflict
	}
	if cur.Version != c.Version {
		return pipeline.ErrVersionConflict
	}
	c.Version++
	s.cases[c.ID] = c.Clone()
	return nil
}

// ListUnfinished returns copies of cases in a resumable stage, oldest first.
func (s *Store) ListUnfinished(_ context.Context) ([]*pipeline.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*pipeline.CaseRecord
	for _, c := range s.cases {
		if c.Stage.Terminal() || c.Stage == pipeline.StagePendingApproval {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
