package models

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

const (
	AttemptIDPrefix = "att"
	PayloadIDPrefix = "pld"
)

// NewID returns a prefixed ULID. ulid.Make draws from a process-wide
// monotonic source, so ids stay unique and ordered across goroutines.
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, ulid.Make().String())
}
