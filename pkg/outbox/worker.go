package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/internal/metrics"
	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/store"
)

// EmailSender sends one email. Implementations report failure with a non-nil error.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// TaskOutcome is the result of a successful TryExecuteTask call.
type TaskOutcome int

const (
	// TaskComplete means a task was claimed, processed and deleted.
	TaskComplete TaskOutcome = iota + 1
	// QueueEmpty means there was no unclaimed task.
	QueueEmpty
)

func (o TaskOutcome) String() string {
	switch o {
	case TaskComplete:
		return "task_complete"
	case QueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Worker drains the delivery queue one task at a time. Any number of workers,
// in any number of processes, can drain the same queue.
type Worker struct {
	dbCtx  *store.DBContext
	sender EmailSender
	tables TableNames

	name              string
	pollInterval      time.Duration
	errorDelay        DelayFunc
	sendTimeout       time.Duration
	validateRecipient func(string) error
	clock             clock.Clock

	started int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// WorkerOption is a function that configures a Worker instance.
type WorkerOption func(*Worker)

// WithPollInterval sets how long the worker sleeps after finding the queue empty.
// Default is 10 seconds.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithErrorDelay sets the backoff applied after consecutive store errors.
// Default is Fixed(1s).
func WithErrorDelay(delayFunc DelayFunc) WorkerOption {
	return func(w *Worker) {
		w.errorDelay = delayFunc
	}
}

// WithSendTimeout bounds each send call. Zero, the default, means no timeout,
// in which case a hung send holds its task lock and blocks the worker.
func WithSendTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) {
		w.sendTimeout = timeout
	}
}

// WithRecipientValidator replaces ValidateRecipient.
func WithRecipientValidator(fn func(string) error) WorkerOption {
	return func(w *Worker) {
		w.validateRecipient = fn
	}
}

// WithWorkerClock sets the time source used for sleeping between polls.
func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(w *Worker) {
		w.clock = c
	}
}

// WithWorkerName sets the name used in logs and by the supervisor.
func WithWorkerName(name string) WorkerOption {
	return func(w *Worker) {
		w.name = name
	}
}

// WithWorkerTableNames overrides the table names. Invalid names panic in NewWorker.
func WithWorkerTableNames(tables TableNames) WorkerOption {
	return func(w *Worker) {
		w.tables = tables
	}
}

// NewWorker creates a Worker that delivers through sender.
func NewWorker(dbCtx *store.DBContext, sender EmailSender, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		dbCtx:             dbCtx,
		sender:            sender,
		tables:            DefaultTableNames(),
		name:              "delivery-worker",
		pollInterval:      10 * time.Second,
		errorDelay:        Fixed(1 * time.Second),
		validateRecipient: ValidateRecipient,
		clock:             clock.System{},
		ctx:               ctx,
		cancel:            cancel,
	}

	for _, opt := range opts {
		opt(w)
	}

	w.tables.mustValidate()

	return w
}

// TryExecuteTask claims at most one task and processes it in a single
// transaction.
//
// The claimed row stays locked, and invisible to other workers, until the
// transaction ends. A task with an invalid recipient is deleted without
// sending. Otherwise the issue is sent and the task deleted whether or not the
// send succeeded. Returned errors are store failures; the task involved, if
// any, stays in the queue.
func (w *Worker) TryExecuteTask(ctx context.Context) (TaskOutcome, error) {
	tx, err := w.dbCtx.BeginTx(ctx)
	if err != nil {
		return 0, &ClaimError{Err: fmt.Errorf("beginning transaction: %w", err)}
	}

	var txCommitted bool
	defer func() {
		if !txCommitted {
			_ = tx.Rollback()
		}
	}()

	task, found, err := w.claimTask(ctx, tx)
	if err != nil {
		return 0, &ClaimError{Err: err}
	}
	if !found {
		return QueueEmpty, nil
	}

	log := logging.Ctx(ctx).With().
		Str("worker", w.name).
		Str("issue_id", task.IssueID.String()).
		Str("recipient", task.Recipient).
		Logger()

	if err := w.validateRecipient(task.Recipient); err != nil {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryInvalidRecipient).Inc()
		log.Warn().Err(&RecipientError{Task: task, Err: err}).
			Msg("skipping a confirmed subscriber, their stored contact details are invalid")
	} else {
		issue, err := w.getIssue(ctx, tx, task)
		if err != nil {
			return 0, &IssueError{Task: task, Err: err}
		}

		if err := w.send(ctx, task, issue); err != nil {
			metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryFailed).Inc()
			log.Error().Err(&DeliveryError{Task: task, Err: err}).
				Msg("failed to deliver issue to a confirmed subscriber, skipping")
		} else {
			metrics.DeliveriesTotal.WithLabelValues(metrics.DeliverySent).Inc()
			log.Debug().Msg("issue delivered")
		}
	}

	if err := w.deleteTask(ctx, tx, task); err != nil {
		return 0, &DeleteError{Task: task, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &CommitError{Task: task, Err: err}
	}
	txCommitted = true

	return TaskComplete, nil
}

// Serve calls TryExecuteTask until ctx is done. After an empty poll it sleeps
// the poll interval; after a store error it sleeps according to the error
// delay. It implements suture.Service and always returns ctx.Err().
func (w *Worker) Serve(ctx context.Context) error {
	attempt := 0
	for {
		outcome, err := w.TryExecuteTask(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var delay time.Duration
		switch {
		case err != nil:
			metrics.WorkerPollsTotal.WithLabelValues(metrics.PollError).Inc()
			logging.Ctx(ctx).Error().Err(err).Str("worker", w.name).Msg("delivery worker failed to process a task")
			delay = w.errorDelay(attempt)
			attempt++
		case outcome == QueueEmpty:
			metrics.WorkerPollsTotal.WithLabelValues(metrics.PollEmpty).Inc()
			attempt = 0
			delay = w.pollInterval
		default:
			metrics.WorkerPollsTotal.WithLabelValues(metrics.PollClaimed).Inc()
			attempt = 0
			continue
		}

		if err := w.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *Worker) String() string {
	return w.name
}

// Start runs Serve in the background until Stop is called.
// If Start is called multiple times, only the first call has an effect.
func (w *Worker) Start() {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		_ = w.Serve(w.ctx)
	}()
}

// Stop gracefully shuts down the worker. A task being processed is either
// finished or rolled back, never left half done. The provided context
// controls how long to wait.
// Calling Stop multiple times is safe and only the first call has an effect.
func (w *Worker) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil
	}

	w.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) claimTask(ctx context.Context, tx store.TxQueryer) (DeliveryTask, bool, error) {
	query := w.dbCtx.ClaimOneQuery(w.tables.DeliveryQueue, []string{"newsletter_issue_id", "subscriber_email"})

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return DeliveryTask{}, false, err
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		return DeliveryTask{}, false, rows.Err()
	}

	var task DeliveryTask
	if err := rows.Scan(&task.IssueID, &task.Recipient); err != nil {
		return DeliveryTask{}, false, fmt.Errorf("scanning delivery task: %w", err)
	}
	return task, true, nil
}

func (w *Worker) getIssue(ctx context.Context, tx store.TxQueryer, task DeliveryTask) (*Issue, error) {
	// nolint:gosec
	query := fmt.Sprintf(`SELECT title, text_content, html_content, published_at
		FROM %s WHERE newsletter_issue_id = %s`,
		w.tables.Issues, w.dbCtx.Placeholder(1))

	rows, err := tx.QueryContext(ctx, query, w.dbCtx.FormatID(task.IssueID))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("issue %s not found", task.IssueID)
	}

	issue := &Issue{ID: task.IssueID}
	if err := rows.Scan(&issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt); err != nil {
		return nil, fmt.Errorf("scanning issue: %w", err)
	}
	return issue, nil
}

func (w *Worker) send(ctx context.Context, task DeliveryTask, issue *Issue) error {
	if w.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.sender.SendEmail(ctx, task.Recipient, issue.Title, issue.HTMLContent, issue.TextContent)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	return err
}

func (w *Worker) deleteTask(ctx context.Context, tx store.TxQueryer, task DeliveryTask) error {
	p := w.dbCtx.Placeholders(1, 2)
	// nolint:gosec
	query := fmt.Sprintf("DELETE FROM %s WHERE newsletter_issue_id = %s AND subscriber_email = %s",
		w.tables.DeliveryQueue, p[0], p[1])

	_, err := tx.ExecContext(ctx, query, w.dbCtx.FormatID(task.IssueID), task.Recipient)
	return err
}
