package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/domain"
)

// HoldRegistry is the TTL key space that decides who may hold a seat.
type HoldRegistry interface {
	TryAcquire(ctx context.Context, ref domain.SeatRef, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, ref domain.SeatRef) error
	ReleaseIfHolder(ctx context.Context, ref domain.SeatRef, holder string) (domain.HoldRelease, error)
	Peek(ctx context.Context, ref domain.SeatRef) (string, bool, error)
}

// Ledger is the durable seat and booking record.
type Ledger interface {
	CreateShow(ctx context.Context, show domain.Show) error
	ListSeats(ctx context.Context, showID uuid.UUID) ([]domain.Seat, error)
	GetSeat(ctx context.Context, ref domain.SeatRef) (domain.Seat, error)
	HoldSeat(ctx context.Context, booking domain.Booking) error
	ConfirmSeat(ctx context.Context, ref domain.SeatRef, user string, at time.Time) error
	ReleaseSeat(ctx context.Context, ref domain.SeatRef, holder string, outcome domain.BookingStatus, at time.Time) (bool, error)
	ListBookings(ctx context.Context, ref domain.SeatRef) ([]domain.Booking, error)
}

// Notifier broadcasts change events. Publish never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, ev domain.ChangeEvent)
}

// Auditor records protocol actions for later inspection.
type Auditor interface {
	Record(ctx context.Context, action string, ref domain.SeatRef, user string) error
}
