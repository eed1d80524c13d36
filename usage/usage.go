// Package usage counts upserted points in a shared cache store.
package usage

import "context"

// DefaultKey is the metric key incremented for every upserted point.
const DefaultKey = "vector_db_proxy:upserts"

// Tracker is a monotonic counter of successful writes.
type Tracker interface {
	Increment(ctx context.Context, n int64) error
	Count(ctx context.Context) (int64, error)
}
