// Package expiry returns seats to AVAILABLE once their hold is gone from the
// hold registry. The Watcher reacts to registry expiry notifications; the
// Sweeper periodically catches the notifications the Watcher never saw.
package expiry

import (
	"context"
	"time"

	"github.com/robertarktes/seat-holds/internal/domain"
)

// Source streams expired registry keys. The channel closes when the
// subscription ends.
type Source interface {
	Expirations(ctx context.Context) (<-chan string, error)
}

type HoldPeeker interface {
	Peek(ctx context.Context, ref domain.SeatRef) (string, bool, error)
}

// Ledger is the slice of the seat ledger expiry needs. ExpireSeat must only
// free a hold that started at or before heldBefore, so a hold taken after the
// registry record lapsed survives a late or racing expiry.
type Ledger interface {
	ExpireSeat(ctx context.Context, ref domain.SeatRef, heldBefore, at time.Time) (bool, error)
	ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Seat, error)
}

type Notifier interface {
	Publish(ctx context.Context, ev domain.ChangeEvent)
}

const (
	outcomeReleased  = "released"
	outcomeNoop      = "noop"
	outcomeReheld    = "reheld"
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

// reconcile releases a HELD ledger row whose registry record is gone and whose
// hold started no later than cutoff. A live record means the seat was held
// again and is left alone; the cutoff covers a hold that lands between the
// peek and the ledger write.
func reconcile(ctx context.Context, registry HoldPeeker, ledger Ledger, ref domain.SeatRef, cutoff, now time.Time) (string, error) {
	if _, live, err := registry.Peek(ctx, ref); err != nil {
		return outcomeError, err
	} else if live {
		return outcomeReheld, nil
	}
	changed, err := ledger.ExpireSeat(ctx, ref, cutoff, now)
	if err != nil {
		return outcomeError, err
	}
	if !changed {
		return outcomeNoop, nil
	}
	return outcomeReleased, nil
}
