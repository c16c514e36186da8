package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shohag/apilogger/internal/models"
)

const pgUniqueViolation = "23505"

type PostgresAttemptLog struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgres(ctx context.Context, url, table string) (*PostgresAttemptLog, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &PostgresAttemptLog{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (s *PostgresAttemptLog) EnsureExists(ctx context.Context) error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			partition_key TEXT NOT NULL,
			row_key TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			payload_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			etag TEXT NOT NULL,
			PRIMARY KEY (partition_key, row_key)
		)`, s.table),
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresAttemptLog) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresAttemptLog) Append(ctx context.Context, rec models.AttemptRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (partition_key, row_key, success, status_code, payload_id, timestamp, etag)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.table),
		rec.PartitionKey, rec.RowKey, rec.Success, rec.StatusCode, rec.PayloadID, rec.Timestamp.UTC(), rec.ETag,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("append %s/%s: %w", rec.PartitionKey, rec.RowKey, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%w: append %s/%s: %w", ErrUnavailable, rec.PartitionKey, rec.RowKey, err)
	}
	return nil
}

func (s *PostgresAttemptLog) QueryRange(ctx context.Context, fromBucket, toBucketExclusive string) iter.Seq2[models.AttemptRecord, error] {
	return func(yield func(models.AttemptRecord, error) bool) {
		rows, err := s.pool.Query(ctx,
			fmt.Sprintf(`SELECT partition_key, row_key, success, status_code, payload_id, timestamp, etag
			 FROM %s WHERE partition_key >= $1 AND partition_key < $2
			 ORDER BY partition_key, row_key`, s.table),
			fromBucket, toBucketExclusive)
		if err != nil {
			yield(models.AttemptRecord{}, fmt.Errorf("%w: query range: %w", ErrUnavailable, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.AttemptRecord
			if err := rows.Scan(&rec.PartitionKey, &rec.RowKey, &rec.Success, &rec.StatusCode, &rec.PayloadID, &rec.Timestamp, &rec.ETag); err != nil {
				yield(models.AttemptRecord{}, fmt.Errorf("%w: scan attempt: %w", ErrUnavailable, err))
				return
			}
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
