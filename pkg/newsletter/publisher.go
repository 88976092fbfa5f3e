package newsletter

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/internal/metrics"
	"github.com/oagudo/newsletter/pkg/clock"
	"github.com/oagudo/newsletter/pkg/idempotency"
	"github.com/oagudo/newsletter/pkg/outbox"
	"github.com/oagudo/newsletter/pkg/store"
)

// DefaultRedirectLocation is where a successful publish redirects to.
const DefaultRedirectLocation = "/admin/newsletters"

var validate = validator.New(validator.WithRequiredStructEnabled())

// PublishRequest is the admin form submitted to publish an issue.
type PublishRequest struct {
	Title          string `validate:"required"`
	HTML           string `validate:"required"`
	Text           string `validate:"required"`
	IdempotencyKey string
}

// Publisher admits publish requests exactly once per (actor, idempotency key).
type Publisher struct {
	coordinator *idempotency.Coordinator
	writer      *outbox.Writer
	clock       clock.Clock
	redirectTo  string
}

// PublisherOption is a function that configures a Publisher instance.
type PublisherOption func(*Publisher)

// WithRedirectLocation sets the Location of the success response.
func WithRedirectLocation(location string) PublisherOption {
	return func(p *Publisher) {
		p.redirectTo = location
	}
}

// WithPublisherClock sets the time source for issue publication times.
func WithPublisherClock(c clock.Clock) PublisherOption {
	return func(p *Publisher) {
		p.clock = c
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(coordinator *idempotency.Coordinator, writer *outbox.Writer, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		coordinator: coordinator,
		writer:      writer,
		clock:       clock.System{},
		redirectTo:  DefaultRedirectLocation,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SeeOther returns a 303 response redirecting to location.
func SeeOther(location string) *idempotency.Response {
	return &idempotency.Response{
		StatusCode: 303,
		Headers:    []idempotency.HeaderPair{{Name: "Location", Value: []byte(location)}},
		Body:       []byte{},
	}
}

// Publish stores a new issue and its delivery tasks, or replays the response
// of an earlier request by the same actor with the same idempotency key.
//
// Errors are *idempotency.ValidationError and *PayloadError for bad input,
// *idempotency.ConflictRaceError when an identical request is still in
// flight, and store errors otherwise. Nothing is persisted when an error is
// returned.
func (p *Publisher) Publish(ctx context.Context, actorID uuid.UUID, req PublishRequest) (*idempotency.Response, error) {
	key, err := idempotency.ParseKey(req.IdempotencyKey)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionInvalid).Inc()
		return nil, err
	}

	if err := validatePayload(req); err != nil {
		metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionInvalid).Inc()
		return nil, err
	}

	log := logging.Ctx(ctx).With().
		Str("actor_id", actorID.String()).
		Str("idempotency_key", key.String()).
		Logger()

	resp, outcome, err := p.coordinator.Do(ctx, actorID, key, func(ctx context.Context, tx store.TxQueryer) (*idempotency.Response, error) {
		issue := outbox.NewIssue(req.Title, req.HTML, req.Text, outbox.WithPublishedAt(p.clock.Now()))

		n, err := p.writer.Enqueue(ctx, tx, issue)
		if err != nil {
			return nil, err
		}

		metrics.DeliveryTasksEnqueued.Add(float64(n))
		log.Info().Str("issue_id", issue.ID.String()).Int64("delivery_tasks", n).Msg("newsletter issue published")
		return SeeOther(p.redirectTo), nil
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrConflictRace) {
			metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionConflict).Inc()
			log.Warn().Err(err).Msg("concurrent publish request with the same idempotency key")
		} else {
			metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionError).Inc()
		}
		return nil, err
	}

	if outcome == idempotency.ReturnSaved {
		metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionReplayed).Inc()
		log.Debug().Msg("replaying saved publish response")
	} else {
		metrics.AdmissionsTotal.WithLabelValues(metrics.AdmissionPublished).Inc()
	}

	return resp, nil
}

func validatePayload(req PublishRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &PayloadError{Err: err}
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &PayloadError{Fields: fields, Err: err}
}
