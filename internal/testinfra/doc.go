// Package testinfra provides databases for tests.
//
// NewSQLiteDB is always available and backs the store level unit tests.
// The dockerised Postgres and MySQL helpers are built only with the integration tag.
package testinfra
