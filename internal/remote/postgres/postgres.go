// Package postgres implements remote.Store against a Postgres database
// reachable over pgx, the remote relational store of spec §6. Every
// entity table is expected to carry the envelope columns (id, user_id,
// created_at, updated_at, deleted, version, device_id) plus a JSONB
// fields column, mirroring the shape internal/store keeps locally.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prabhask5/goalsync/internal/entity"
	"github.com/prabhask5/goalsync/internal/remote"
)

const uniqueViolationCode = "23505"

// Store is a pgx-backed remote.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ remote.Store = (*Store)(nil)

// Open connects to Postgres at dsn and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Insert(ctx context.Context, row *entity.Row) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("postgres: marshal fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, created_at, updated_at, deleted, version, device_id, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tableName(row.Table)), row.ID, row.UserID, row.CreatedAt, row.UpdatedAt, row.Deleted, row.Version, nullableString(row.DeviceID), fieldsJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return remote.ErrDuplicate
		}
		return fmt.Errorf("postgres: insert %s/%s: %w", row.Table, row.ID, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table entity.Table, id string, fields map[string]any, updatedAt time.Time, deviceID string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: marshal fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET fields = fields || $1::jsonb, updated_at = $2, device_id = $3, version = version + 1
		WHERE id = $4
	`, tableName(table)), fieldsJSON, updatedAt, nullableString(deviceID), id)
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return remote.ErrNotFound
	}
	return nil
}

// UpdateWithVersionCAS implements the Open Question fix of DESIGN.md:
// the increment push becomes an atomic read-modify-write guarded by a
// compare-and-swap on version, instead of a client-side read then blind
// write.
func (s *Store) UpdateWithVersionCAS(ctx context.Context, table entity.Table, id, field string, delta float64, expectedVersion int64, updatedAt time.Time, deviceID string) (int64, error) {
	var newVersion int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET
			fields = jsonb_set(fields, $1::text[], to_jsonb(COALESCE((fields->>$2)::double precision, 0) + $3)),
			updated_at = $4, device_id = $5, version = version + 1
		WHERE id = $6 AND version = $7
		RETURNING version
	`, tableName(table)), []string{field}, field, delta, updatedAt, nullableString(deviceID), id, expectedVersion).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := s.Get(ctx, table, id)
			if getErr != nil {
				return 0, getErr
			}
			if current.Version != expectedVersion {
				return 0, remote.ErrStaleVersion
			}
			return 0, remote.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment-cas %s/%s.%s: %w", table, id, field, err)
	}
	return newVersion, nil
}

func (s *Store) Delete(ctx context.Context, table entity.Table, id string, updatedAt time.Time, deviceID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET deleted = true, updated_at = $1, device_id = $2, version = version + 1 WHERE id = $3
	`, tableName(table)), updatedAt, nullableString(deviceID), id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table entity.Table, id string) (*entity.Row, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM %s WHERE id = $1
	`, tableName(table)), id)
	return scanRow(table, row)
}

func (s *Store) SelectSince(ctx context.Context, table entity.Table, userID string, cursor time.Time, afterID string, limit int) ([]*entity.Row, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, created_at, updated_at, deleted, version, device_id, fields
		FROM %s
		WHERE user_id = $1 AND (updated_at > $2 OR (updated_at = $2 AND id > $3))
		ORDER BY updated_at, id
		LIMIT $4
	`, tableName(table)), userID, cursor, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: select since %s: %w", table, err)
	}
	defer rows.Close()

	var out []*entity.Row
	for rows.Next() {
		r, err := scanRow(table, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(table entity.Table, row scanner) (*entity.Row, error) {
	var r entity.Row
	r.Table = table
	var deviceID *string
	var fieldsJSON []byte
	if err := row.Scan(&r.ID, &r.UserID, &r.CreatedAt, &r.UpdatedAt, &r.Deleted, &r.Version, &deviceID, &fieldsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan %s: %w", table, err)
	}
	if deviceID != nil {
		r.DeviceID = *deviceID
	}
	var fields entity.Fields
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal fields %s/%s: %w", table, r.ID, err)
	}
	r.Fields = fields
	return &r, nil
}

// tableName maps an entity.Table to its remote relation name. Remote
// tables share the same names as the local store's table_name values.
func tableName(t entity.Table) string {
	return pgx.Identifier{string(t)}.Sanitize()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
