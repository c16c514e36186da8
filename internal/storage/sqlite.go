package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"github.com/shohag/apilogger/internal/models"
)

type SQLiteAttemptLog struct {
	db    *sql.DB
	table string
}

func NewSQLite(path, table string) (*SQLiteAttemptLog, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	return &SQLiteAttemptLog{db: db, table: table}, nil
}

func (s *SQLiteAttemptLog) EnsureExists(ctx context.Context) error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			partition_key TEXT NOT NULL,
			row_key TEXT NOT NULL,
			success INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			payload_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			etag TEXT NOT NULL,
			PRIMARY KEY (partition_key, row_key)
		)`, s.table),
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *SQLiteAttemptLog) Close() error {
	return s.db.Close()
}

func (s *SQLiteAttemptLog) Append(ctx context.Context, rec models.AttemptRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (partition_key, row_key, success, status_code, payload_id, timestamp, etag)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table),
		rec.PartitionKey, rec.RowKey, success, rec.StatusCode, rec.PayloadID, rec.Timestamp.UTC(), rec.ETag,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("append %s/%s: %w", rec.PartitionKey, rec.RowKey, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%w: append %s/%s: %w", ErrUnavailable, rec.PartitionKey, rec.RowKey, err)
	}
	return nil
}

func (s *SQLiteAttemptLog) QueryRange(ctx context.Context, fromBucket, toBucketExclusive string) iter.Seq2[models.AttemptRecord, error] {
	return func(yield func(models.AttemptRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT partition_key, row_key, success, status_code, payload_id, timestamp, etag
			 FROM %q WHERE partition_key >= ? AND partition_key < ?
			 ORDER BY partition_key, row_key`, s.table),
			fromBucket, toBucketExclusive)
		if err != nil {
			yield(models.AttemptRecord{}, fmt.Errorf("%w: query range: %w", ErrUnavailable, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.AttemptRecord
			var success int
			if err := rows.Scan(&rec.PartitionKey, &rec.RowKey, &success, &rec.StatusCode, &rec.PayloadID, &rec.Timestamp, &rec.ETag); err != nil {
				yield(models.AttemptRecord{}, fmt.Errorf("%w: scan attempt: %w", ErrUnavailable, err))
				return
			}
			rec.Success = success == 1
			rec.Timestamp = rec.Timestamp.UTC()
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.AttemptRecord{}, fmt.Errorf("%w: query range: %w", ErrUnavailable, err))
		}
	}
}
