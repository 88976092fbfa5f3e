package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Issue is a published newsletter issue. It is immutable once stored.
type Issue struct {
	ID          uuid.UUID
	Title       string
	HTMLContent string
	TextContent string
	PublishedAt time.Time
}

// IssueOption is a function that can be used to configure an Issue.
type IssueOption func(*Issue)

// WithIssueID sets the issue identifier.
// If not provided, a new UUID will be generated.
func WithIssueID(id uuid.UUID) IssueOption {
	return func(i *Issue) {
		i.ID = id
	}
}

// WithPublishedAt sets the publication time.
// If not provided, the current time will be used.
func WithPublishedAt(t time.Time) IssueOption {
	return func(i *Issue) {
		i.PublishedAt = t.UTC()
	}
}

// NewIssue creates an Issue with the given content.
func NewIssue(title, htmlContent, textContent string, opts ...IssueOption) *Issue {
	i := &Issue{
		ID:          uuid.New(),
		Title:       title,
		HTMLContent: htmlContent,
		TextContent: textContent,
		PublishedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// DeliveryTask is a pending delivery of one issue to one recipient.
type DeliveryTask struct {
	IssueID   uuid.UUID
	Recipient string
}
