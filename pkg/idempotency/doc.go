// Package idempotency deduplicates side-effecting requests per (actor, key).
//
// The first request for a key inserts a pending record and gets back an open
// transaction. The caller performs its business writes in that transaction and
// hands it to SaveResponse, which stores the response snapshot on the record and
// commits everything atomically. Later requests with the same key replay the
// stored snapshot byte for byte. A duplicate that arrives while the first request
// is still uncommitted fails with a ConflictRaceError rather than waiting.
//
// Records are removed by the Reaper once they are older than the configured TTL.
package idempotency
