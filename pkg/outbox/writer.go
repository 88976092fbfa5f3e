package outbox

import (
	"context"
	"fmt"

	"github.com/oagudo/newsletter/pkg/store"
)

// SubscriptionConfirmed is the subscription status that makes a subscriber
// eligible for delivery.
const SubscriptionConfirmed = "confirmed"

// Writer stores issues and their delivery tasks as part of a caller managed
// transaction.
type Writer struct {
	dbCtx          *store.DBContext
	tables         TableNames
	eligibleStatus string
}

// WriterOption is a function that configures a Writer instance.
type WriterOption func(*Writer)

// WithWriterTableNames overrides the table names. Invalid names panic in NewWriter.
func WithWriterTableNames(tables TableNames) WriterOption {
	return func(w *Writer) {
		w.tables = tables
	}
}

// WithEligibleStatus sets the subscription status that receives issues.
// Default is "confirmed".
func WithEligibleStatus(status string) WriterOption {
	return func(w *Writer) {
		w.eligibleStatus = status
	}
}

// NewWriter creates a new Writer.
func NewWriter(dbCtx *store.DBContext, opts ...WriterOption) *Writer {
	w := &Writer{
		dbCtx:          dbCtx,
		tables:         DefaultTableNames(),
		eligibleStatus: SubscriptionConfirmed,
	}

	for _, opt := range opts {
		opt(w)
	}

	w.tables.mustValidate()

	return w
}

// Enqueue inserts issue and one delivery task per currently eligible
// subscriber, using tx. Subscribers that become eligible later are not
// included. It returns the number of tasks created.
//
// Nothing is visible to workers until tx commits.
func (w *Writer) Enqueue(ctx context.Context, tx store.TxQueryer, issue *Issue) (int64, error) {
	if err := w.insertIssue(ctx, tx, issue); err != nil {
		return 0, err
	}
	return w.insertDeliveryTasks(ctx, tx, issue)
}

func (w *Writer) insertIssue(ctx context.Context, tx store.TxQueryer, issue *Issue) error {
	p := w.dbCtx.Placeholders(1, 5)
	// nolint:gosec
	query := fmt.Sprintf(`INSERT INTO %s (newsletter_issue_id, title, text_content, html_content, published_at)
		VALUES (%s, %s, %s, %s, %s)`,
		w.tables.Issues, p[0], p[1], p[2], p[3], p[4])

	_, err := tx.ExecContext(ctx, query,
		w.dbCtx.FormatID(issue.ID), issue.Title, issue.TextContent, issue.HTMLContent, issue.PublishedAt.UTC())
	if err != nil {
		return fmt.Errorf("storing newsletter issue: %w", err)
	}
	return nil
}

func (w *Writer) insertDeliveryTasks(ctx context.Context, tx store.TxQueryer, issue *Issue) (int64, error) {
	// nolint:gosec
	query := fmt.Sprintf(`INSERT INTO %s (newsletter_issue_id, subscriber_email)
		SELECT %s, email FROM %s WHERE status = %s`,
		w.tables.DeliveryQueue,
		w.dbCtx.IDParam(w.dbCtx.Placeholder(1)),
		w.tables.Subscriptions,
		w.dbCtx.Placeholder(2))

	res, err := tx.ExecContext(ctx, query, w.dbCtx.FormatID(issue.ID), w.eligibleStatus)
	if err != nil {
		return 0, fmt.Errorf("enqueuing delivery tasks: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}
