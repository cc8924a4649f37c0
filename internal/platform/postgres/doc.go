// Package postgres provides PostgreSQL-backed implementations of the
// persistence contracts in internal/store, using the pgx driver through
// database/sql.
package postgres
