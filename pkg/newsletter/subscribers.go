package newsletter

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/outbox"
	"github.com/oagudo/newsletter/pkg/store"
)

// StatusPendingConfirmation is the status of a subscriber who has not confirmed yet.
const StatusPendingConfirmation = "pending_confirmation"

// Subscriber is a newsletter subscription.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       string
}

// Subscribers stores subscriptions. Only confirmed subscribers receive issues.
type Subscribers struct {
	dbCtx       *store.DBContext
	tableName   string
	tokensTable string
	clock       clock.Clock
}

// SubscribersOption is a function that configures a Subscribers instance.
type SubscribersOption func(*Subscribers)

// WithSubscriptionsTableName sets the table name. Default is "subscriptions".
func WithSubscriptionsTableName(name string) SubscribersOption {
	return func(s *Subscribers) {
		s.tableName = name
	}
}

// WithSubscriptionTokensTableName sets the confirmation token table name.
// Default is "subscription_tokens".
func WithSubscriptionTokensTableName(name string) SubscribersOption {
	return func(s *Subscribers) {
		s.tokensTable = name
	}
}

// WithSubscribersClock sets the time source for subscription times.
func WithSubscribersClock(c clock.Clock) SubscribersOption {
	return func(s *Subscribers) {
		s.clock = c
	}
}

// NewSubscribers creates a Subscribers store.
func NewSubscribers(dbCtx *store.DBContext, opts ...SubscribersOption) *Subscribers {
	s := &Subscribers{
		dbCtx:       dbCtx,
		tableName:   "subscriptions",
		tokensTable: "subscription_tokens",
		clock:       clock.System{},
	}

	for _, opt := range opts {
		opt(s)
	}

	store.MustTableName(s.tableName)
	store.MustTableName(s.tokensTable)

	return s
}

// Add stores a new subscriber pending confirmation together with the token
// that confirms it. Both rows are written in one transaction.
func (s *Subscribers) Add(ctx context.Context, email, name string) (*Subscriber, string, error) {
	email = strings.TrimSpace(email)
	if err := outbox.ValidateRecipient(email); err != nil {
		return nil, "", &PayloadError{Fields: []string{"Email"}, Err: err}
	}
	name, err := ParseSubscriberName(name)
	if err != nil {
		return nil, "", err
	}

	sub := &Subscriber{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		SubscribedAt: s.clock.Now(),
		Status:       StatusPendingConfirmation,
	}
	token := newSubscriptionToken()

	tx, err := s.dbCtx.BeginTx(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	p := s.dbCtx.Placeholders(1, 5)
	// nolint:gosec
	query := fmt.Sprintf("INSERT INTO %s (id, email, name, subscribed_at, status) VALUES (%s, %s, %s, %s, %s)",
		s.tableName, p[0], p[1], p[2], p[3], p[4])
	_, err = tx.ExecContext(ctx, query,
		s.dbCtx.FormatID(sub.ID), sub.Email, sub.Name, sub.SubscribedAt, sub.Status)
	if err != nil {
		return nil, "", fmt.Errorf("storing subscriber: %w", err)
	}

	p = s.dbCtx.Placeholders(1, 2)
	// nolint:gosec
	query = fmt.Sprintf("INSERT INTO %s (subscription_token, subscriber_id) VALUES (%s, %s)",
		s.tokensTable, p[0], p[1])
	if _, err = tx.ExecContext(ctx, query, token, s.dbCtx.FormatID(sub.ID)); err != nil {
		return nil, "", fmt.Errorf("storing subscription token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("committing subscriber: %w", err)
	}
	return sub, token, nil
}

// ConfirmByToken confirms the subscriber a confirmation link was issued to.
// Confirming twice is not an error.
func (s *Subscribers) ConfirmByToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrSubscriptionTokenNotFound
	}

	tx, err := s.dbCtx.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// nolint:gosec
	query := fmt.Sprintf("SELECT subscriber_id FROM %s WHERE subscription_token = %s",
		s.tokensTable, s.dbCtx.Placeholder(1))
	var id uuid.UUID
	err = tx.QueryRowContext(ctx, query, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSubscriptionTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up subscription token: %w", err)
	}

	p := s.dbCtx.Placeholders(1, 2)
	// nolint:gosec
	query = fmt.Sprintf("UPDATE %s SET status = %s WHERE id = %s", s.tableName, p[0], p[1])
	if _, err := tx.ExecContext(ctx, query, outbox.SubscriptionConfirmed, s.dbCtx.FormatID(id)); err != nil {
		return fmt.Errorf("confirming subscriber: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing confirmation: %w", err)
	}
	return nil
}

// newSubscriptionToken returns a random 26 character base32 token.
func newSubscriptionToken() string {
	return rand.Text()
}

// Confirm marks the subscriber as eligible for future issues.
func (s *Subscribers) Confirm(ctx context.Context, id uuid.UUID) error {
	p := s.dbCtx.Placeholders(1, 2)
	// nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET status = %s WHERE id = %s", s.tableName, p[0], p[1])

	res, err := s.dbCtx.DB().ExecContext(ctx, query, outbox.SubscriptionConfirmed, s.dbCtx.FormatID(id))
	if err != nil {
		return fmt.Errorf("confirming subscriber: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}

// ListConfirmed returns all confirmed subscribers ordered by email.
func (s *Subscribers) ListConfirmed(ctx context.Context) ([]Subscriber, error) {
	// nolint:gosec
	query := fmt.Sprintf("SELECT id, email, name, subscribed_at, status FROM %s WHERE status = %s ORDER BY email",
		s.tableName, s.dbCtx.Placeholder(1))

	rows, err := s.dbCtx.DB().QueryContext(ctx, query, outbox.SubscriptionConfirmed)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.SubscribedAt, &sub.Status); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
