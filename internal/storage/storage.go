package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strings"

	"github.com/shohag/apilogger/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrUnavailable = errors.New("store unavailable")
)

// AttemptLog is an append-only log of poll attempts partitioned by day bucket.
type AttemptLog interface {
	// EnsureExists creates the backing table if it is missing.
	EnsureExists(ctx context.Context) error
	// Append inserts rec. It fails with ErrConflict if the key is taken.
	Append(ctx context.Context, rec models.AttemptRecord) error
	// QueryRange yields records with fromBucket <= PartitionKey < toBucketExclusive
	// in arrival order. A store failure is yielded once and ends the sequence.
	QueryRange(ctx context.Context, fromBucket, toBucketExclusive string) iter.Seq2[models.AttemptRecord, error]
	Close() error
}

// PayloadStore holds raw response bodies keyed by payload id.
type PayloadStore interface {
	EnsureExists(ctx context.Context) error
	Put(ctx context.Context, id string, content []byte) error
	// Get returns ErrNotFound for unknown ids. The caller closes the reader.
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Collect drains a QueryRange sequence.
func Collect(seq iter.Seq2[models.AttemptRecord, error]) ([]models.AttemptRecord, error) {
	records := []models.AttemptRecord{}
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// validPayloadID rejects ids that could escape the container.
func validPayloadID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
