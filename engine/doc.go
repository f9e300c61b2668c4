// Package engine wires the workq subsystems — store, registry, hooks,
// middleware, worker pool, status tracker, and health aggregator — into
// a running Engine, and provides the producer-side enqueue API.
package engine
