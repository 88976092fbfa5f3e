package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/store"
)

type fakeDB struct {
	beginTxErr error
	tx         *fakeTx
}

func (f *fakeDB) BeginTx(_ context.Context, _ *sql.TxOptions) (store.Tx, error) {
	if f.beginTxErr != nil {
		return nil, f.beginTxErr
	}
	return f.tx, nil
}

func (f *fakeDB) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	return nil, nil
}

func (f *fakeDB) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, nil
}

type fakeTx struct {
	execErr  error
	queryErr error

	execCalled bool
	committed  bool
	rolledBack bool
}

func (f *fakeTx) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	f.execCalled = true
	return nil, f.execErr
}

func (f *fakeTx) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, f.queryErr
}

func (f *fakeTx) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

func (f *fakeTx) Commit() error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback() error {
	f.rolledBack = true
	return nil
}

// recordingSender records every send and fails for addresses in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    map[string]int
	failFor map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string]int{}, failFor: map[string]bool{}}
}

func (s *recordingSender) SendEmail(_ context.Context, recipient, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[recipient]++
	if s.failFor[recipient] {
		return errors.New("smtp 550")
	}
	return nil
}

func (s *recordingSender) count(recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[recipient]
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		n += c
	}
	return n
}

func newSQLiteContext(t *testing.T) (*store.DBContext, *sql.DB) {
	t.Helper()
	db := testinfra.NewSQLiteDB(t)
	return store.NewDBContext(db, store.SQLDialectSQLite), db
}

func addSubscriber(t *testing.T, db *sql.DB, email, status string) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO subscriptions (id, email, name, subscribed_at, status) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), email, "subscriber", time.Now().UTC(), status)
	require.NoError(t, err)
}

func enqueue(t *testing.T, dbCtx *store.DBContext, issue *Issue) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := dbCtx.BeginTx(ctx)
	require.NoError(t, err)
	n, err := NewWriter(dbCtx).Enqueue(ctx, tx, issue)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return n
}
