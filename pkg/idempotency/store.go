package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oagudo/newsletter/pkg/store"
)

// ErrRecordNotPending is returned by Store.SaveResponse when there is no
// pending record to complete.
var ErrRecordNotPending = errors.New("no pending idempotency record")

// Record is a persisted idempotency record.
type Record struct {
	ActorID   uuid.UUID
	Key       Key
	CreatedAt time.Time

	// Response is nil while the record is pending.
	Response *Response
}

// Completed reports whether the response snapshot has been saved.
func (r *Record) Completed() bool {
	return r.Response != nil
}

// Store persists idempotency records, unique per (actor, key).
type Store struct {
	dbCtx     *store.DBContext
	tableName string
}

// StoreOption is a function that configures a Store instance.
type StoreOption func(*Store)

// WithTableName sets a custom table name for idempotency records.
// Default is "idempotency". An invalid name panics in NewStore.
func WithTableName(tableName string) StoreOption {
	return func(s *Store) {
		s.tableName = tableName
	}
}

// NewStore creates a Store over dbCtx.
func NewStore(dbCtx *store.DBContext, opts ...StoreOption) *Store {
	s := &Store{
		dbCtx:     dbCtx,
		tableName: "idempotency",
	}

	for _, opt := range opts {
		opt(s)
	}

	store.MustTableName(s.tableName)

	return s
}

// InsertPending inserts a pending record inside tx. It reports false, without
// error, when a record for (actor, key) already exists.
func (s *Store) InsertPending(ctx context.Context, tx store.TxQueryer, actorID uuid.UUID, key Key, createdAt time.Time) (bool, error) {
	query := s.dbCtx.InsertIgnoreQuery(s.tableName,
		[]string{"actor_id", "idempotency_key", "created_at"},
		[]string{"actor_id", "idempotency_key"})

	res, err := tx.ExecContext(ctx, query, s.dbCtx.FormatID(actorID), string(key), createdAt.UTC())
	if err != nil {
		return false, fmt.Errorf("inserting idempotency record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// SaveResponse stores resp on the pending record for (actor, key) inside tx.
// A record transitions to completed exactly once.
func (s *Store) SaveResponse(ctx context.Context, tx store.TxQueryer, actorID uuid.UUID, key Key, resp *Response) error {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return fmt.Errorf("encoding response headers: %w", err)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	p := s.dbCtx.Placeholders(1, 5)
	// nolint:gosec
	query := fmt.Sprintf(`UPDATE %s
		SET response_status_code = %s, response_headers = %s, response_body = %s
		WHERE actor_id = %s AND idempotency_key = %s AND response_status_code IS NULL`,
		s.tableName, p[0], p[1], p[2], p[3], p[4])

	res, err := tx.ExecContext(ctx, query,
		int32(resp.StatusCode), headers, body, s.dbCtx.FormatID(actorID), string(key))
	if err != nil {
		return fmt.Errorf("saving response: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrRecordNotPending
	}
	return nil
}

// Get loads the record for (actor, key) through q. It returns nil, nil when
// there is no such record.
func (s *Store) Get(ctx context.Context, q store.Queryer, actorID uuid.UUID, key Key) (*Record, error) {
	p := s.dbCtx.Placeholders(1, 2)
	// nolint:gosec
	query := fmt.Sprintf(`SELECT actor_id, idempotency_key, created_at,
		response_status_code, response_headers, response_body
		FROM %s WHERE actor_id = %s AND idempotency_key = %s`,
		s.tableName, p[0], p[1])

	rows, err := q.QueryContext(ctx, query, s.dbCtx.FormatID(actorID), string(key))
	if err != nil {
		return nil, fmt.Errorf("querying idempotency record: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var (
		rec        Record
		rawKey     string
		statusCode sql.NullInt32
		headers    []byte
		body       []byte
	)
	err = rows.Scan(&rec.ActorID, &rawKey, &rec.CreatedAt, &statusCode, &headers, &body)
	if err != nil {
		return nil, fmt.Errorf("scanning idempotency record: %w", err)
	}
	rec.Key = Key(rawKey)

	if statusCode.Valid {
		decoded, err := decodeHeaders(headers)
		if err != nil {
			return nil, fmt.Errorf("decoding response headers: %w", err)
		}
		if body == nil {
			body = []byte{}
		}
		rec.Response = &Response{
			// nolint:gosec
			StatusCode: uint16(statusCode.Int32),
			Headers:    decoded,
			Body:       body,
		}
	}

	return &rec, nil
}

// DeleteExpired removes every record created before cutoff and returns how
// many were deleted.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	// nolint:gosec
	query := fmt.Sprintf("DELETE FROM %s WHERE created_at < %s", s.tableName, s.dbCtx.Placeholder(1))

	res, err := s.dbCtx.DB().ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired idempotency records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}
