// Package dlq provides dead-letter operations over terminally failed
// jobs: listing, replaying a failed job as a fresh waiting job, and
// purging. Failed jobs live in the broker store under bounded
// retention; this package is the operator surface on top of them.
package dlq
