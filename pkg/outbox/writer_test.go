package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/store"
)

func TestIssueOptions(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	issue := NewIssue("Title", "<p>html</p>", "text", WithIssueID(id), WithPublishedAt(at))

	if issue.ID != id {
		t.Errorf("expected ID %v, got %v", id, issue.ID)
	}
	if !issue.PublishedAt.Equal(at) {
		t.Errorf("expected PublishedAt %v, got %v", at, issue.PublishedAt)
	}
	if issue.Title != "Title" || issue.HTMLContent != "<p>html</p>" || issue.TextContent != "text" {
		t.Errorf("unexpected content: %+v", issue)
	}
}

func TestEnqueueCreatesOneTaskPerConfirmedSubscriber(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "a@example.com", SubscriptionConfirmed)
	addSubscriber(t, db, "b@example.com", SubscriptionConfirmed)
	addSubscriber(t, db, "c@example.com", SubscriptionConfirmed)
	addSubscriber(t, db, "pending@example.com", "pending_confirmation")

	n := enqueue(t, dbCtx, NewIssue("Issue #1", "<p>hi</p>", "hi"))

	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, testinfra.CountRows(t, db, "newsletter_issues"))
	assert.Equal(t, 3, testinfra.CountRows(t, db, "issue_delivery_queue"))

	var pending int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM issue_delivery_queue WHERE subscriber_email = ?", "pending@example.com").Scan(&pending))
	assert.Zero(t, pending)
}

func TestEnqueueSnapshotsRecipients(t *testing.T) {
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "early@example.com", SubscriptionConfirmed)

	issue := NewIssue("Issue", "<p>x</p>", "x")
	enqueue(t, dbCtx, issue)

	addSubscriber(t, db, "late@example.com", SubscriptionConfirmed)

	assert.Equal(t, 1, testinfra.CountRows(t, db, "issue_delivery_queue"))
}

func TestEnqueueRollbackLeavesNothing(t *testing.T) {
	ctx := context.Background()
	dbCtx, db := newSQLiteContext(t)
	addSubscriber(t, db, "a@example.com", SubscriptionConfirmed)
	addSubscriber(t, db, "b@example.com", SubscriptionConfirmed)

	tx, err := dbCtx.BeginTx(ctx)
	require.NoError(t, err)
	n, err := NewWriter(dbCtx).Enqueue(ctx, tx, NewIssue("Issue", "<p>x</p>", "x"))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, testinfra.CountRows(t, db, "newsletter_issues"))
	assert.Equal(t, 0, testinfra.CountRows(t, db, "issue_delivery_queue"))
}

func TestEnqueueWrapsStoreError(t *testing.T) {
	tx := &fakeTx{execErr: errors.New("relation does not exist")}
	dbCtx := store.NewDBContextWithDB(&fakeDB{tx: tx}, store.SQLDialectPostgres)

	_, err := NewWriter(dbCtx).Enqueue(context.Background(), tx, NewIssue("t", "h", "x"))

	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, tx.execErr) {
		t.Errorf("expected wrapped store error, got: %v", err)
	}
	if !tx.execCalled {
		t.Error("expected tx.ExecContext to be called")
	}
}

func TestWriterPanicsOnInvalidTableName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()

	tables := DefaultTableNames()
	tables.DeliveryQueue = "queue; DROP TABLE subscriptions"
	NewWriter(store.NewDBContextWithDB(&fakeDB{}, store.SQLDialectPostgres), WithWriterTableNames(tables))
}
