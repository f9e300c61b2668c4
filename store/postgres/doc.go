// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, atomic attempt accounting, and
// embedded SQL migrations.
package postgres
