// Package store defines the aggregate persistence interface backing the
// broker. The composite Store embeds the job persistence contract plus
// lifecycle operations. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/hirewire/workq/job"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of it.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
