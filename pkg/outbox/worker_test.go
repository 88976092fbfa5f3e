package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/store"
)

func TestTryExecuteTaskEmptyQueue(t *testing.T) {
	dbCtx, _ := newSQLiteContext(t)
	sender := newRecordingSender()

	outcome, err := NewWorker(dbCtx, sender).TryExecuteTask(context.Background())

	require.NoError(t, err)
	assert.Equal(t, QueueEmpty, outcome)
	assert.Zero(t, sender.total())
}

func TestTryExecuteTaskDeliversAndDeletes(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "reader@example.com", SubscriptionConfirmed)
	enqueue(t, dbCtx, NewIssue("Issue", "<p>x</p>", "x"))
	sender := newRecordingSender()
	worker := NewWorker(dbCtx, sender)

	outcome, err := worker.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskComplete, outcome)
	assert.Equal(t, 1, sender.count("reader@example.com"))
	assert.Equal(t, 0, testinfra.CountRows(t, db, "issue_delivery_queue"))

	outcome, err = worker.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, QueueEmpty, outcome)
}

func TestFailedSendDropsTask(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "bounce@example.com", SubscriptionConfirmed)
	enqueue(t, dbCtx, NewIssue("Issue", "<p>x</p>", "x"))
	sender := newRecordingSender()
	sender.failFor["bounce@example.com"] = true

	outcome, err := NewWorker(dbCtx, sender).TryExecuteTask(context.Background())

	require.NoError(t, err)
	assert.Equal(t, TaskComplete, outcome)
	assert.Equal(t, 1, sender.count("bounce@example.com"))
	assert.Equal(t, 0, testinfra.CountRows(t, db, "issue_delivery_queue"))
}

func TestInvalidRecipientIsDeletedWithoutSending(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "definitely-not-an-email", SubscriptionConfirmed)
	addSubscriber(t, db, "ok@example.com", SubscriptionConfirmed)
	enqueue(t, dbCtx, NewIssue("Issue", "<p>x</p>", "x"))
	sender := newRecordingSender()

	fake := clock.NewFake(time.Now())
	worker := NewWorker(dbCtx, sender, WithWorkerClock(fake))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnSleep(func(time.Duration) { cancel() })

	err := worker.Serve(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, sender.count("definitely-not-an-email"))
	assert.Equal(t, 1, sender.count("ok@example.com"))
	assert.Equal(t, 0, testinfra.CountRows(t, db, "issue_delivery_queue"))
	assert.Equal(t, []time.Duration{10 * time.Second}, fake.Sleeps())
}

func TestConcurrentWorkersClaimEachTaskOnce(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)

	const (
		tasks   = 30
		workers = 4
	)
	for i := 0; i < tasks; i++ {
		addSubscriber(t, db, fmt.Sprintf("reader%d@example.com", i), SubscriptionConfirmed)
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

func TestServeSleepsPollIntervalOnEmptyQueue(t *testing.T) {
	dbCtx, _ := newSQLiteContext(t)
	fake := clock.NewFake(time.Now())
	worker := NewWorker(dbCtx, newRecordingSender(), WithWorkerClock(fake))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnSleep(func(time.Duration) {
		if len(fake.Sleeps()) == 3 {
			cancel()
		}
	})

	err := worker.Serve(ctx)
	require.ErrorIs(t, err, context.Canceled)

	sleeps := fake.Sleeps()
	require.Len(t, sleeps, 3)
	for _, d := range sleeps {
		assert.Equal(t, 10*time.Second, d)
	}
}

func TestServeBacksOffOnStoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		opts  []WorkerOption
		wants []time.Duration
	}{
		{
			name:  "default fixed backoff",
			wants: []time.Duration{time.Second, time.Second, time.Second},
		},
		{
			name:  "exponential backoff",
			opts:  []WorkerOption{WithErrorDelay(Exponential(time.Second, 3*time.Second))},
			wants: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{beginTxErr: errors.New("connection refused")}
			fake := clock.NewFake(time.Now())
			opts := append([]WorkerOption{WithWorkerClock(fake)}, tt.opts...)
			worker := NewWorker(store.NewDBContextWithDB(db, store.SQLDialectPostgres), newRecordingSender(), opts...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			fake.OnSleep(func(time.Duration) {
				if len(fake.Sleeps()) == len(tt.wants) {
					cancel()
				}
			})

			err := worker.Serve(ctx)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got: %v", err)
			}

			got := fake.Sleeps()
			if len(got) != len(tt.wants) {
				t.Fatalf("expected %d sleeps, got %v", len(tt.wants), got)
			}
			for i := range got {
				if got[i] != tt.wants[i] {
					t.Errorf("sleep %d: expected %v, got %v", i, tt.wants[i], got[i])
				}
			}
		})
	}
}

func TestTryExecuteTaskClaimErrorRollsBack(t *testing.T) {
	tx := &fakeTx{queryErr: errors.New("deadlock detected")}
	worker := NewWorker(store.NewDBContextWithDB(&fakeDB{tx: tx}, store.SQLDialectPostgres), newRecordingSender())

	_, err := worker.TryExecuteTask(context.Background())

	var claimErr *ClaimError
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected *ClaimError, got: %v", err)
	}
	if !errors.Is(err, tx.queryErr) {
		t.Errorf("expected error to wrap the store error")
	}
	if !tx.rolledBack || tx.committed {
		t.Errorf("expected rollback without commit")
	}
}

func TestWorkerStartStop(t *testing.T) {
	dbCtx, _ := newSQLiteContext(t)
	worker := NewWorker(dbCtx, newRecordingSender(), WithPollInterval(10*time.Millisecond))

	worker.Start()
	worker.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(ctx))
	require.NoError(t, worker.Stop(ctx))
}
