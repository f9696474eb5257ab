package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prabhask5/goalsync/internal/entity"
)

// RetentionSweep hard-deletes rows that have carried deleted=true for
// longer than olderThan, bounding storage growth the way spec §9's
// "SHOULD add" retention-sweep note describes. Every sweep is logged to
// retention_log for auditability, mirroring the teacher's habit of
// auditing destructive operations (internal/storage/dolt/history.go).
func (s *Store) RetentionSweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	now := formatTime(time.Now())

	swept := 0
	for _, table := range entity.Tables {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id FROM entities WHERE table_name = ? AND deleted = 1 AND updated_at < ?
		`, string(table), cutoff)
		if err != nil {
			return swept, fmt.Errorf("retention query %s: %w", table, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return swept, fmt.Errorf("retention scan %s: %w", table, err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return swept, fmt.Errorf("retention iterate %s: %w", table, err)
		}

		for _, id := range ids {
			err := s.RunInTransaction(ctx, func(tx Tx) error {
				if err := tx.DeleteEntity(ctx, table, id); err != nil {
					return err
				}
				sqlTx := tx.(*sqlTx)
				_, err := sqlTx.conn.ExecContext(ctx, `
					INSERT INTO retention_log (table_name, entity_id, deleted_at, swept_at)
					VALUES (?, ?, ?, ?)
				`, string(table), id, cutoff, now)
				return err
			})
			if err != nil {
				return swept, fmt.Errorf("retention sweep %s/%s: %w", table, id, err)
			}
			swept++
		}
	}
	return swept, nil
}
