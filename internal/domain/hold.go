package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// HoldKeyNamespace prefixes every key the hold registry writes.
const HoldKeyNamespace = "seat"

// SeatRef identifies a seat within a show.
type SeatRef struct {
	ShowID uuid.UUID
	SeatID string
}

func (r SeatRef) Validate() error {
	if r.ShowID == uuid.Nil || r.SeatID == "" || strings.Contains(r.SeatID, ":") {
		return ErrInvalidInput
	}
	return nil
}

// HoldKey is the registry key for the seat: seat:<showID>:<seatID>.
func (r SeatRef) HoldKey() string {
	return HoldKeyNamespace + ":" + r.ShowID.String() + ":" + r.SeatID
}

func (r SeatRef) String() string {
	return r.ShowID.String() + "/" + r.SeatID
}

// IsHoldKey reports whether key belongs to the hold namespace. Other keys
// sharing the keyspace (rate limits, idempotency records) are not ours.
func IsHoldKey(key string) bool {
	return strings.HasPrefix(key, HoldKeyNamespace+":")
}

// ParseHoldKey recovers the seat from a registry key.
func ParseHoldKey(key string) (SeatRef, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != HoldKeyNamespace || parts[2] == "" {
		return SeatRef{}, errors.Wrapf(ErrMalformedEvent, "hold key %q", key)
	}
	showID, err := uuid.Parse(parts[1])
	if err != nil {
		return SeatRef{}, errors.Mark(errors.Wrapf(err, "hold key %q: bad show id", key), ErrMalformedEvent)
	}
	return SeatRef{ShowID: showID, SeatID: parts[2]}, nil
}

// HoldRelease is the outcome of a holder-checked release.
type HoldRelease int

const (
	// HoldAbsent means no live record existed for the seat.
	HoldAbsent HoldRelease = iota
	// HoldReleased means the caller held the seat and the record is gone.
	HoldReleased
	// HoldHeldByOther means someone else holds the seat; nothing changed.
	HoldHeldByOther
)
