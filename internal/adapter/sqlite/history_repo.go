package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// RecordBatch stores a finished batch and all of its sessions in one transaction
func (s *Store) RecordBatch(ctx context.Context, batch *domain.DownloadBatch, directory string, summary domain.BatchSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO batches (
			id, share_url, directory, total_files, completed, failed, cancelled,
			total_bytes, bytes_done, started_at, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		batch.ID, batch.ShareURL, directory, summary.TotalFiles, summary.Completed, summary.Failed,
		summary.Cancelled, summary.TotalBytes, summary.BytesDone,
		batch.StartedAt.UnixMilli(), summary.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, batch_id, path, size, status, backend, attempts, error_kind, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sess := range batch.Sessions {
		_, err := stmt.ExecContext(ctx,
			sess.ID, batch.ID, sess.Descriptor.Path(), sess.Descriptor.Size,
			string(sess.Status), string(sess.Backend), sess.AttemptCount,
			string(sess.LastError), sess.LastErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
		}
	}

	return tx.Commit()
}

// ListBatches returns the most recent batches first
func (s *Store) ListBatches(ctx context.Context, limit int) ([]port.BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, share_url, directory, total_files, completed, failed, cancelled,
			   total_bytes, bytes_done, started_at, elapsed_ms
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []port.BatchRecord
	for rows.Next() {
		var r port.BatchRecord
		var startedAt, elapsedMs int64
		if err := rows.Scan(
			&r.ID, &r.ShareURL, &r.Directory, &r.TotalFiles, &r.Completed, &r.Failed, &r.Cancelled,
			&r.TotalBytes, &r.BytesDone, &startedAt, &elapsedMs,
		); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedAt)
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListSessions returns the sessions of a batch ordered by path
func (s *Store) ListSessions(ctx context.Context, batchID string) ([]port.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, id, path, size, status, backend, attempts, error_kind, error
		FROM sessions
		WHERE batch_id = ?
		ORDER BY path ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []port.SessionRecord
	for rows.Next() {
		var r port.SessionRecord
		var status, backend, kind string
		if err := rows.Scan(&r.BatchID, &r.SessionID, &r.Path, &r.Size, &status, &backend, &r.Attempts, &kind, &r.Error); err != nil {
			return nil, err
		}
		r.Status = domain.SessionStatus(status)
		r.Backend = domain.BackendKind(backend)
		r.ErrorKind = domain.ErrorKind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneBatches deletes batches started before the given time together with their sessions
func (s *Store) PruneBatches(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := before.UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE batch_id IN (SELECT id FROM batches WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune batches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}
