package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatBooked    SeatStatus = "BOOKED"
)

type BookingStatus string

const (
	BookingHeld     BookingStatus = "HELD"
	BookingBooked   BookingStatus = "BOOKED"
	BookingExpired  BookingStatus = "EXPIRED"
	BookingReleased BookingStatus = "RELEASED"
)

// Seat is the ledger view of one seat. BookedBy and BookedAt are set iff the
// seat is HELD or BOOKED.
type Seat struct {
	ShowID   uuid.UUID  `json:"show_id"`
	SeatID   string     `json:"seat_id"`
	Position int        `json:"position"`
	Status   SeatStatus `json:"status"`
	BookedBy *string    `json:"booked_by"`
	BookedAt *time.Time `json:"booked_at"`
}

func (s Seat) Ref() SeatRef {
	return SeatRef{ShowID: s.ShowID, SeatID: s.SeatID}
}

// HeldBy reports whether the seat is HELD by user.
func (s Seat) HeldBy(user string) bool {
	return s.Status == SeatHeld && s.BookedBy != nil && *s.BookedBy == user
}

func (s Seat) BookedFor(user string) bool {
	return s.Status == SeatBooked && s.BookedBy != nil && *s.BookedBy == user
}

type Show struct {
	ID    uuid.UUID
	Seats []Seat
}

// Booking is one attempt to take a seat. Attempts are appended on hold and
// only their status changes afterwards.
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	ShowID    uuid.UUID     `json:"show_id"`
	SeatID    string        `json:"seat_id"`
	User      string        `json:"user"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewBooking(ref SeatRef, user string, now time.Time) Booking {
	return Booking{
		ID:        uuid.New(),
		ShowID:    ref.ShowID,
		SeatID:    ref.SeatID,
		User:      user,
		Status:    BookingHeld,
		CreatedAt: now,
	}
}

// ChangeEvent tells observers to re-fetch seat state. ShowID is a routing hint
// and may be uuid.Nil.
type ChangeEvent struct {
	ShowID uuid.UUID `json:"show_id"`
}
