// Package rtest provides an in-memory remote.Store fake for
// deterministic engine tests without a live Postgres instance, grounded
// on the teacher's internal/storage/memory in-process fake.
package rtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/remote"
)

type key struct {
	table entity.Table
	id    string
}

// Store is a goroutine-safe, in-memory remote.Store.
type Store struct {
	mu   sync.Mutex
	rows map[key]*entity.Row
}

var _ remote.Store = (*Store)(nil)

// New returns an empty fake remote store.
func New() *Store {
	return &Store{rows: make(map[key]*entity.Row)}
}

func (s *Store) Close() {}

// Seed directly inserts a row, bypassing duplicate checking, for test
// setup (e.g. simulating pre-existing remote state).
func (s *Store) Seed(row *entity.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key{row.Table, row.ID}] = row.Clone()
}

func (s *Store) Insert(_ context.Context, row *entity.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{row.Table, row.ID}
	if _, ok := s.rows[k]; ok {
		return remote.ErrDuplicate
	}
	s.rows[k] = row.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, table entity.Table, id string, fields map[string]any, updatedAt time.Time, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key{table, id}]
	if !ok {
		return remote.ErrNotFound
	}
	for k, v := range fields {
		row.Fields[k] = v
	}
	row.UpdatedAt = updatedAt
	row.DeviceID = deviceID
	row.Version++
	return nil
}

func (s *Store) UpdateWithVersionCAS(_ context.Context, table entity.Table, id, field string, delta float64, expectedVersion int64, updatedAt time.Time, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key{table, id}]
	if !ok {
		return 0, remote.ErrNotFound
	}
	if row.Version != expectedVersion {
		return 0, remote.ErrStaleVersion
	}
	current, _ := row.Fields[field].(float64)
	row.Fields[field] = current + delta
	row.UpdatedAt = updatedAt
	row.DeviceID = deviceID
	row.Version++
	return row.Version, nil
}

func (s *Store) Delete(_ context.Context, table entity.Table, id string, updatedAt time.Time, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key{table, id}]
	if !ok {
		return remote.ErrNotFound
	}
	row.Deleted = true
	row.UpdatedAt = updatedAt
	row.DeviceID = deviceID
	row.Version++
	return nil
}

func (s *Store) Get(_ context.Context, table entity.Table, id string) (*entity.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key{table, id}]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *Store) SelectSince(_ context.Context, table entity.Table, userID string, cursor time.Time, afterID string, limit int) ([]*entity.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*entity.Row
	for k, row := range s.rows {
		if k.table != table || row.UserID != userID {
			continue
		}
		if row.UpdatedAt.After(cursor) || (row.UpdatedAt.Equal(cursor) && row.ID > afterID) {
			matches = append(matches, row)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*entity.Row, len(matches))
	for i, r := range matches {
		out[i] = r.Clone()
	}
	return out, nil
}
