package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/clock"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHoldTTL      = 30 * time.Second
	DefaultSeatsPerShow = 30
	maxUserLen          = 255
)

var tracer = otel.Tracer("reservation")

// Coordinator moves seats between AVAILABLE, HELD and BOOKED. The registry
// decides exclusivity; the ledger records what observers see.
type Coordinator struct {
	registry     HoldRegistry
	ledger       Ledger
	notifier     Notifier
	auditor      Auditor
	clock        clock.Clock
	logger       observability.Logger
	holdTTL      time.Duration
	seatsPerShow int
}

type Option func(*Coordinator)

func WithHoldTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.holdTTL = d
		}
	}
}

func WithSeatsPerShow(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.seatsPerShow = n
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithAuditor(a Auditor) Option {
	return func(c *Coordinator) { c.auditor = a }
}

func WithLogger(l observability.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(registry HoldRegistry, ledger Ledger, notifier Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:     registry,
		ledger:       ledger,
		notifier:     notifier,
		clock:        clock.NewSystem(),
		logger:       observability.NopLogger(),
		holdTTL:      DefaultHoldTTL,
		seatsPerShow: DefaultSeatsPerShow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) HoldTTL() time.Duration { return c.holdTTL }

// HoldResult is returned by a successful Hold.
type HoldResult struct {
	Booking   domain.Booking
	ExpiresAt time.Time
}

func (c *Coordinator) SeedShow(ctx context.Context) (domain.Show, error) {
	show := domain.NewShow(c.seatsPerShow)
	if err := c.ledger.CreateShow(ctx, show); err != nil {
		return domain.Show{}, err
	}
	c.logger.WithField("show_id", show.ID).Info("show seeded")
	c.notifier.Publish(ctx, domain.ChangeEvent{ShowID: show.ID})
	return show, nil
}

func (c *Coordinator) ListSeats(ctx context.Context, showID uuid.UUID) ([]domain.Seat, error) {
	return c.ledger.ListSeats(ctx, showID)
}

func (c *Coordinator) ListBookings(ctx context.Context, ref domain.SeatRef) ([]domain.Booking, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return c.ledger.ListBookings(ctx, ref)
}

// PeekHold reports the live registry holder. Diagnostics only.
func (c *Coordinator) PeekHold(ctx context.Context, ref domain.SeatRef) (string, bool, error) {
	if err := ref.Validate(); err != nil {
		return "", false, err
	}
	return c.registry.Peek(ctx, ref)
}

// Hold claims the seat for user for the hold TTL. A seat held by anyone, or
// already booked, is a conflict.
func (c *Coordinator) Hold(ctx context.Context, ref domain.SeatRef, user string) (res HoldResult, err error) {
	ctx, span := tracer.Start(ctx, "reservation.Hold")
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("show_id", ref.ShowID.String()), attribute.String("seat_id", ref.SeatID))

	user, err = validate(ref, user)
	if err != nil {
		return HoldResult{}, err
	}
	log := c.logger.WithField("seat", ref.String()).WithField("user", user)

	// Read the clock before acquiring so the ledger hold never outlives the
	// registry record.
	now := c.clock.Now()
	ok, err := c.registry.TryAcquire(ctx, ref, user, c.holdTTL)
	if err != nil {
		observability.HoldOutcomes.WithLabelValues("unavailable").Inc()
		log.WithError(err).Error("hold registry unavailable")
		return HoldResult{}, err
	}
	if !ok {
		observability.HoldOutcomes.WithLabelValues("conflict").Inc()
		log.Info("seat already held")
		return HoldResult{}, domain.ErrConflict
	}

	booking := domain.NewBooking(ref, user, now)
	if err := c.ledger.HoldSeat(ctx, booking); err != nil {
		// Hand the record back so a rejected or failed write does not block
		// the seat for a full TTL.
		if _, relErr := c.registry.ReleaseIfHolder(ctx, ref, user); relErr != nil {
			log.WithError(relErr).Warn("could not return hold after ledger failure")
		}
		switch {
		case errors.Is(err, domain.ErrConflict):
			observability.HoldOutcomes.WithLabelValues("conflict").Inc()
			log.Info("seat already booked")
		case errors.Is(err, domain.ErrNotFound):
			observability.HoldOutcomes.WithLabelValues("not_found").Inc()
		default:
			observability.HoldOutcomes.WithLabelValues("unavailable").Inc()
			log.WithError(err).Error("ledger hold failed")
		}
		return HoldResult{}, err
	}

	observability.HoldOutcomes.WithLabelValues("held").Inc()
	log.Info("seat held")
	c.audit(ctx, "hold", ref, user)
	c.notifier.Publish(ctx, domain.ChangeEvent{ShowID: ref.ShowID})
	return HoldResult{Booking: booking, ExpiresAt: now.Add(c.holdTTL)}, nil
}

// Confirm books a seat the caller currently holds. A seat held by someone
// else is a conflict. Without a live hold the call is rejected with
// ErrNoActiveHold, except for retries of a confirm that already went through.
func (c *Coordinator) Confirm(ctx context.Context, ref domain.SeatRef, user string) (err error) {
	ctx, span := tracer.Start(ctx, "reservation.Confirm")
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("show_id", ref.ShowID.String()), attribute.String("seat_id", ref.SeatID))

	user, err = validate(ref, user)
	if err != nil {
		return err
	}
	log := c.logger.WithField("seat", ref.String()).WithField("user", user)

	released, err := c.registry.ReleaseIfHolder(ctx, ref, user)
	if err != nil {
		log.WithError(err).Error("hold registry unavailable")
		return err
	}

	switch released {
	case domain.HoldHeldByOther:
		log.Info("confirm rejected, seat held by another user")
		return domain.ErrConflict
	case domain.HoldAbsent:
		return c.confirmWithoutRecord(ctx, ref, user, log)
	}

	if err := c.ledger.ConfirmSeat(ctx, ref, user, c.clock.Now()); err != nil {
		if !errors.Is(err, domain.ErrNoActiveHold) {
			log.WithError(err).Error("ledger confirm failed")
		}
		return err
	}
	c.booked(ctx, ref, user, log)
	return nil
}

// confirmWithoutRecord settles a confirm that found no registry record: a
// retry after the record was already released, or a hold that expired.
func (c *Coordinator) confirmWithoutRecord(ctx context.Context, ref domain.SeatRef, user string, log observability.Logger) error {
	seat, err := c.ledger.GetSeat(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoActiveHold
		}
		return err
	}

	switch {
	case seat.BookedFor(user):
		return nil
	case seat.HeldBy(user):
		now := c.clock.Now()
		if seat.BookedAt != nil && now.Before(seat.BookedAt.Add(c.holdTTL)) {
			if err := c.ledger.ConfirmSeat(ctx, ref, user, now); err != nil {
				return err
			}
			c.booked(ctx, ref, user, log)
			return nil
		}
		// The hold lapsed and the expiry event has not been applied yet.
		changed, err := c.ledger.ReleaseSeat(ctx, ref, user, domain.BookingExpired, now)
		if err != nil {
			return err
		}
		if changed {
			log.Info("expired hold reconciled on confirm")
			c.notifier.Publish(ctx, domain.ChangeEvent{ShowID: ref.ShowID})
		}
	}
	return domain.ErrNoActiveHold
}

func (c *Coordinator) booked(ctx context.Context, ref domain.SeatRef, user string, log observability.Logger) {
	log.Info("seat booked")
	c.audit(ctx, "confirm", ref, user)
	c.notifier.Publish(ctx, domain.ChangeEvent{ShowID: ref.ShowID})
}

// Release cancels the caller's hold and makes the seat available again.
func (c *Coordinator) Release(ctx context.Context, ref domain.SeatRef, user string) (err error) {
	ctx, span := tracer.Start(ctx, "reservation.Release")
	defer endSpan(span, &err)

	user, err = validate(ref, user)
	if err != nil {
		return err
	}
	log := c.logger.WithField("seat", ref.String()).WithField("user", user)

	released, err := c.registry.ReleaseIfHolder(ctx, ref, user)
	if err != nil {
		log.WithError(err).Error("hold registry unavailable")
		return err
	}
	if released == domain.HoldHeldByOther {
		return domain.ErrConflict
	}

	changed, err := c.ledger.ReleaseSeat(ctx, ref, user, domain.BookingReleased, c.clock.Now())
	if err != nil {
		log.WithError(err).Error("ledger release failed")
		return err
	}
	if !changed && released == domain.HoldAbsent {
		return domain.ErrNoActiveHold
	}

	log.Info("hold released")
	c.audit(ctx, "release", ref, user)
	c.notifier.Publish(ctx, domain.ChangeEvent{ShowID: ref.ShowID})
	return nil
}

func (c *Coordinator) audit(ctx context.Context, action string, ref domain.SeatRef, user string) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record(ctx, action, ref, user); err != nil {
		c.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

// validate checks the seat and returns the user with surrounding whitespace
// removed. The trimmed name is the holder identity everywhere downstream.
func validate(ref domain.SeatRef, user string) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	user = strings.TrimSpace(user)
	if user == "" || len(user) > maxUserLen {
		return "", domain.ErrInvalidInput
	}
	return user, nil
}

// endSpan records the error unless it is an expected protocol rejection.
func endSpan(span trace.Span, errp *error) {
	if *errp != nil && !isRejection(*errp) {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNoActiveHold) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound)
}
