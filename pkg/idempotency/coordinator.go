package idempotency

import (
	"context"

	"github.com/google/uuid"

	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/store"
)

// Outcome tells the caller of TryProcessing what to do next.
type Outcome int

const (
	// StartProcessing means the request is new. NextAction.Tx is open and the
	// caller must do its work in it and finish with SaveResponse.
	StartProcessing Outcome = iota + 1

	// ReturnSaved means the request was already completed. NextAction.Saved
	// holds the response to replay.
	ReturnSaved
)

func (o Outcome) String() string {
	switch o {
	case StartProcessing:
		return "start_processing"
	case ReturnSaved:
		return "return_saved"
	default:
		return "unknown"
	}
}

// NextAction is the result of TryProcessing.
type NextAction struct {
	Outcome Outcome
	Tx      store.Tx
	Saved   *Response
}

// WorkFunc performs the business mutation for a new request inside tx and
// returns the response to store and send back.
type WorkFunc func(ctx context.Context, tx store.TxQueryer) (*Response, error)

// Coordinator decides atomically whether a request is new or a duplicate.
type Coordinator struct {
	dbCtx *store.DBContext
	store *Store
	clock clock.Clock
}

// CoordinatorOption is a function that configures a Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithClock sets the time source used for record creation times.
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// NewCoordinator creates a Coordinator backed by st.
func NewCoordinator(dbCtx *store.DBContext, st *Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		dbCtx: dbCtx,
		store: st,
		clock: clock.System{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TryProcessing opens a transaction and tries to insert a pending record for
// (actor, key).
//
// If the insert takes effect the open transaction is returned with
// StartProcessing; the caller owns it from then on. Otherwise the transaction
// is rolled back and the saved response is returned with ReturnSaved. If the
// existing record has no response yet, a *ConflictRaceError is returned.
func (c *Coordinator) TryProcessing(ctx context.Context, actorID uuid.UUID, key Key) (*NextAction, error) {
	tx, err := c.dbCtx.BeginTx(ctx)
	if err != nil {
		return nil, &StoreError{Op: "beginning transaction", Err: err}
	}

	inserted, err := c.store.InsertPending(ctx, tx, actorID, key, c.clock.Now())
	if err != nil {
		_ = tx.Rollback()
		return nil, &StoreError{Op: "recording idempotency key", Err: err}
	}
	if inserted {
		return &NextAction{Outcome: StartProcessing, Tx: tx}, nil
	}

	_ = tx.Rollback()

	saved, err := c.GetSavedResponse(ctx, actorID, key)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, &ConflictRaceError{ActorID: actorID, Key: key}
	}

	return &NextAction{Outcome: ReturnSaved, Saved: saved}, nil
}

// SaveResponse stores resp on the pending record and commits tx, making the
// business writes done in tx and the snapshot durable together. On failure tx
// is rolled back.
func (c *Coordinator) SaveResponse(ctx context.Context, tx store.Tx, actorID uuid.UUID, key Key, resp *Response) (*Response, error) {
	if err := c.store.SaveResponse(ctx, tx, actorID, key, resp); err != nil {
		_ = tx.Rollback()
		return nil, &StoreError{Op: "saving response", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Op: "committing transaction", Err: err}
	}

	return resp, nil
}

// GetSavedResponse returns the completed response for (actor, key), or nil if
// there is no record or it is still pending.
func (c *Coordinator) GetSavedResponse(ctx context.Context, actorID uuid.UUID, key Key) (*Response, error) {
	rec, err := c.store.Get(ctx, c.dbCtx.DB(), actorID, key)
	if err != nil {
		return nil, &StoreError{Op: "loading saved response", Err: err}
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Response, nil
}

// Do runs fn at most once per (actor, key) and manages the transaction.
//
// For a new request fn runs inside the transaction holding the pending record;
// the transaction commits together with the returned response, or rolls back if
// fn returns an error or panics. For a completed request the saved response is
// returned with ReturnSaved and fn is not called.
func (c *Coordinator) Do(ctx context.Context, actorID uuid.UUID, key Key, fn WorkFunc) (*Response, Outcome, error) {
	next, err := c.TryProcessing(ctx, actorID, key)
	if err != nil {
		return nil, 0, err
	}
	if next.Outcome == ReturnSaved {
		return next.Saved, ReturnSaved, nil
	}

	tx := next.Tx
	var txDone bool
	defer func() {
		if !txDone {
			_ = tx.Rollback()
		}
	}()

	resp, err := fn(ctx, tx)
	if err != nil {
		return nil, StartProcessing, err
	}

	// SaveResponse commits or rolls back.
	txDone = true
	resp, err = c.SaveResponse(ctx, tx, actorID, key, resp)
	if err != nil {
		return nil, StartProcessing, err
	}
	return resp, StartProcessing, nil
}
