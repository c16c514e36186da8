package models

import (
	"fmt"
	"net/url"
	"time"
)

// BucketLayout is the day-granularity partition key format (UTC).
const BucketLayout = "20060102"

// AttemptRecord is one logged outcome of a single poll. Field names follow
// the generic table-entity shape: partition key is the day bucket, row key
// the record id.
type AttemptRecord struct {
	PartitionKey string    `json:"partitionKey"`
	RowKey       string    `json:"rowKey"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"statusCode"`
	PayloadID    string    `json:"payloadId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ETag         string    `json:"eTag"`
}

// NewAttemptRecord stamps a fresh record for an attempt observed at now.
func NewAttemptRecord(now time.Time, success bool, statusCode int, payloadID string) AttemptRecord {
	now = now.UTC()
	return AttemptRecord{
		PartitionKey: BucketKey(now),
		RowKey:       NewID(AttemptIDPrefix),
		Success:      success,
		StatusCode:   statusCode,
		PayloadID:    payloadID,
		Timestamp:    now,
		ETag:         NewETag(now),
	}
}

func BucketKey(t time.Time) string {
	return t.UTC().Format(BucketLayout)
}

func NewETag(t time.Time) string {
	return fmt.Sprintf(`W/"datetime'%s'"`, url.QueryEscape(t.UTC().Format(time.RFC3339Nano)))
}
