package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// NewShow lays out n AVAILABLE seats labelled A1..An.
func NewShow(n int) Show {
	id := uuid.New()
	seats := make([]Seat, n)
	for i := range seats {
		seats[i] = Seat{
			ShowID:   id,
			SeatID:   "A" + strconv.Itoa(i+1),
			Position: i + 1,
			Status:   SeatAvailable,
		}
	}
	return Show{ID: id, Seats: seats}
}
