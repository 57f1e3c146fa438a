package utils

import (
	"time"
)

// DBTime normalizes t for storage: UTC, truncated to microseconds like Postgres timestamptz.
func DBTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
