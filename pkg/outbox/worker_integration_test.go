//go:build integration

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/store"
)

func addSubscriberTo(t *testing.T, dbCtx *store.DBContext, email string) {
	t.Helper()
	p := dbCtx.Placeholders(1, 5)
	query := fmt.Sprintf("INSERT INTO subscriptions (id, email, name, subscribed_at, status) VALUES (%s, %s, %s, %s, %s)",
		p[0], p[1], p[2], p[3], p[4])
	_, err := dbCtx.DB().ExecContext(context.Background(), query,
		dbCtx.FormatID(uuid.New()), email, "subscriber", time.Now().UTC(), SubscriptionConfirmed)
	require.NoError(t, err)
}

func drainConcurrently(t *testing.T, dbCtx *store.DBContext, db *sql.DB) {
	t.Helper()

	const (
		tasks   = 50
		workers = 8
	)
	for i := 0; i < tasks; i++ {
		addSubscriberTo(t, dbCtx, fmt.Sprintf("reader%d@example.com", i))
	}
	require.Equal(t, int64(tasks), enqueue(t, dbCtx, NewIssue("Issue", "<p>x</p>", "x")))

	sender := newRecordingSender()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := NewWorker(dbCtx, sender, WithWorkerName(fmt.Sprintf("worker-%d", i)))
			for {
				outcome, err := w.TryExecuteTask(context.Background())
				if !assert.NoError(t, err) || outcome == QueueEmpty {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, tasks, sender.total())
	for i := 0; i < tasks; i++ {
		assert.Equal(t, 1, sender.count(fmt.Sprintf("reader%d@example.com", i)))
	}
	assert.Equal(t, 0, testinfra.CountRows(t, db, "issue_delivery_queue"))
}

func TestPostgresWorkersSkipLockedTasks(t *testing.T) {
	db := testinfra.NewPostgresDB(t)
	drainConcurrently(t, store.NewDBContext(db, store.SQLDialectPostgres), db)
}

func TestMySQLWorkersSkipLockedTasks(t *testing.T) {
	db := testinfra.NewMySQLDB(t)
	drainConcurrently(t, store.NewDBContext(db, store.SQLDialectMySQL), db)
}
