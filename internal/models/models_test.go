package models

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueAcrossGoroutines(t *testing.T) {
	const n = 500
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- NewID(AttemptIDPrefix)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		require.True(t, strings.HasPrefix(id, "att_"), id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestNewAttemptRecord(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	rec := NewAttemptRecord(now, true, 200, "pld_1")

	assert.Equal(t, "20240102", rec.PartitionKey)
	assert.True(t, strings.HasPrefix(rec.RowKey, "att_"))
	assert.True(t, rec.Success)
	assert.Equal(t, 200, rec.StatusCode)
	assert.Equal(t, "pld_1", rec.PayloadID)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Contains(t, rec.ETag, "datetime'2024-01-02T01%3A30%3A00Z'")
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"20240305", "2024-03-05", "2024-03-05T13:14:15Z", "2024-03-05 10:00:00"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "yesterday", "2024-13-01", "2024/03/05"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}

func TestBucketRange(t *testing.T) {
	from, to, err := BucketRange("20240101", "20240101")
	require.NoError(t, err)
	assert.Equal(t, "20240101", from)
	assert.Equal(t, "20240102", to)

	from, to, err = BucketRange("2024-02-28", "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "20240228", from)
	assert.Equal(t, "20240301", to)

	_, _, err = BucketRange("bad", "20240101")
	assert.ErrorContains(t, err, "from")
	_, _, err = BucketRange("20240101", "")
	assert.ErrorContains(t, err, "to")
}
