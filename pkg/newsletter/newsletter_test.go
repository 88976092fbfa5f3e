package newsletter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/idempotency"
	"github.com/oagudo/newsletter/pkg/outbox"
	"github.com/oagudo/newsletter/pkg/store"
)

type app struct {
	db          *sql.DB
	dbCtx       *store.DBContext
	publisher   *Publisher
	subscribers *Subscribers
}

func newApp(t *testing.T) *app {
	t.Helper()
	db := testinfra.NewSQLiteDB(t)
	dbCtx := store.NewDBContext(db, store.SQLDialectSQLite)
	coord := idempotency.NewCoordinator(dbCtx, idempotency.NewStore(dbCtx))

	return &app{
		db:          db,
		dbCtx:       dbCtx,
		publisher:   NewPublisher(coord, outbox.NewWriter(dbCtx)),
		subscribers: NewSubscribers(dbCtx),
	}
}

func (a *app) confirmedSubscriber(t *testing.T, email string) {
	t.Helper()
	sub, _, err := a.subscribers.Add(context.Background(), email, "Reader")
	require.NoError(t, err)
	require.NoError(t, a.subscribers.Confirm(context.Background(), sub.ID))
}

func request(key string) PublishRequest {
	return PublishRequest{
		Title:          "Newsletter title",
		HTML:           "<p>Newsletter body as HTML</p>",
		Text:           "Newsletter body as plain text",
		IdempotencyKey: key,
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) SendEmail(_ context.Context, recipient, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	return nil
}

func TestPublishIsIdempotent(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	actor := uuid.New()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		a.confirmedSubscriber(t, email)
	}

	first, err := a.publisher.Publish(ctx, actor, request("abc123"))
	require.NoError(t, err)
	assert.Equal(t, uint16(303), first.StatusCode)
	location, ok := first.Header("Location")
	require.True(t, ok)
	assert.Equal(t, "/admin/newsletters", string(location))
	assert.Equal(t, 3, testinfra.CountRows(t, a.db, "issue_delivery_queue"))

	second, err := a.publisher.Publish(ctx, actor, request("abc123"))
	require.NoError(t, err)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, 1, testinfra.CountRows(t, a.db, "newsletter_issues"))
	assert.Equal(t, 3, testinfra.CountRows(t, a.db, "issue_delivery_queue"))
}

func TestPublishWithNewKeyCreatesNewIssue(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	actor := uuid.New()
	a.confirmedSubscriber(t, "a@example.com")

	_, err := a.publisher.Publish(ctx, actor, request("first"))
	require.NoError(t, err)
	_, err = a.publisher.Publish(ctx, actor, request("second"))
	require.NoError(t, err)

	assert.Equal(t, 2, testinfra.CountRows(t, a.db, "newsletter_issues"))
	assert.Equal(t, 2, testinfra.CountRows(t, a.db, "issue_delivery_queue"))
}

func TestPublishRejectsInvalidKeys(t *testing.T) {
	a := newApp(t)

	for _, key := range []string{"", strings.Repeat("x", 49)} {
		_, err := a.publisher.Publish(context.Background(), uuid.New(), request(key))

		var verr *idempotency.ValidationError
		require.ErrorAs(t, err, &verr)
	}

	assert.Equal(t, 0, testinfra.CountRows(t, a.db, "idempotency"))
	assert.Equal(t, 0, testinfra.CountRows(t, a.db, "newsletter_issues"))
}

func TestPublishRejectsMissingFields(t *testing.T) {
	a := newApp(t)
	req := request("k")
	req.Title = ""

	_, err := a.publisher.Publish(context.Background(), uuid.New(), req)

	var perr *PayloadError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"Title"}, perr.Fields)
	assert.Equal(t, 0, testinfra.CountRows(t, a.db, "idempotency"))
}

func TestConcurrentPublishCreatesOneIssue(t *testing.T) {
	a := newApp(t)
	actor := uuid.New()
	a.confirmedSubscriber(t, "a@example.com")
	a.confirmedSubscriber(t, "b@example.com")

	const callers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		responses []*idempotency.Response
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := a.publisher.Publish(context.Background(), actor, request("dup-1"))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, errors.Is(err, idempotency.ErrConflictRace), "unexpected error: %v", err)
				return
			}
			responses = append(responses, resp)
		}()
	}
	wg.Wait()

	require.NotEmpty(t, responses)
	for _, r := range responses[1:] {
		assert.Equal(t, responses[0].StatusCode, r.StatusCode)
		assert.Equal(t, responses[0].Headers, r.Headers)
	}
	assert.Equal(t, 1, testinfra.CountRows(t, a.db, "newsletter_issues"))
	assert.Equal(t, 2, testinfra.CountRows(t, a.db, "issue_delivery_queue"))
}

func TestPublishedIssueIsDeliveredToConfirmedSubscribersOnly(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	a.confirmedSubscriber(t, "confirmed@example.com")
	_, _, err := a.subscribers.Add(ctx, "unconfirmed@example.com", "Lurker")
	require.NoError(t, err)

	_, err = a.publisher.Publish(ctx, uuid.New(), request("deliver"))
	require.NoError(t, err)

	sender := &recordingSender{}
	worker := outbox.NewWorker(a.dbCtx, sender)
	for {
		outcome, err := worker.TryExecuteTask(ctx)
		require.NoError(t, err)
		if outcome == outbox.QueueEmpty {
			break
		}
	}

	assert.Equal(t, []string{"confirmed@example.com"}, sender.sent)
}

func TestPublishUsesClockForPublicationTime(t *testing.T) {
	db := testinfra.NewSQLiteDB(t)
	dbCtx := store.NewDBContext(db, store.SQLDialectSQLite)
	at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	publisher := NewPublisher(
		idempotency.NewCoordinator(dbCtx, idempotency.NewStore(dbCtx)),
		outbox.NewWriter(dbCtx),
		WithPublisherClock(clock.NewFake(at)),
		WithRedirectLocation("/admin/dashboard"),
	)

	resp, err := publisher.Publish(context.Background(), uuid.New(), request("k"))
	require.NoError(t, err)
	location, _ := resp.Header("Location")
	assert.Equal(t, "/admin/dashboard", string(location))

	var published time.Time
	require.NoError(t, db.QueryRow("SELECT published_at FROM newsletter_issues").Scan(&published))
	assert.True(t, published.Equal(at), "published_at %v", published)
}
