package mysql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robertarktes/seat-holds/internal/adapters/mysql"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newLedger(t *testing.T) *mysql.Ledger {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8.0",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": "secret",
				"MYSQL_DATABASE":      "bookmyshow",
			},
			WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatal(err)
	}

	db, err := mysql.Open(ctx, "root:secret@tcp("+host+":"+port.Port()+")/bookmyshow")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ledger := mysql.NewLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return ledger
}

func TestLedger_SeatLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	show := domain.NewShow(30)
	if err := ledger.CreateShow(ctx, show); err != nil {
		t.Fatalf("create show: %v", err)
	}
	seats, err := ledger.ListSeats(ctx, show.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 30 || seats[0].SeatID != "A1" || seats[29].SeatID != "A30" {
		t.Fatalf("expected A1..A30, got %d seats", len(seats))
	}

	ref := seats[4].Ref()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "alice", now)); err != nil {
		t.Fatalf("hold: %v", err)
	}
	seat, err := ledger.GetSeat(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !seat.HeldBy("alice") || seat.BookedAt == nil || !seat.BookedAt.Equal(now) {
		t.Fatalf("expected HELD by alice at %v, got %+v", now, seat)
	}

	if err := ledger.ConfirmSeat(ctx, ref, "alice", now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "bob", now)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on booked seat, got %v", err)
	}
	if changed, err := ledger.ExpireSeat(ctx, ref, now.Add(time.Hour), now); err != nil || changed {
		t.Fatalf("booked seat must not be expired, changed=%v err=%v", changed, err)
	}
}

func TestLedger_ExpiryRelease(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	show := domain.NewShow(2)
	if err := ledger.CreateShow(ctx, show); err != nil {
		t.Fatal(err)
	}
	ref := show.Seats[0].Ref()
	now := time.Now().UTC()

	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "alice", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	stale, err := ledger.ListStaleHolds(ctx, now.Add(-30*time.Second), 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected one stale hold, got %d err=%v", len(stale), err)
	}

	changed, err := ledger.ExpireSeat(ctx, ref, now.Add(-30*time.Second), now)
	if err != nil || !changed {
		t.Fatalf("expected expiry, changed=%v err=%v", changed, err)
	}
	seat, _ := ledger.GetSeat(ctx, ref)
	if seat.Status != domain.SeatAvailable || seat.BookedBy != nil {
		t.Fatalf("expected AVAILABLE, got %+v", seat)
	}
	bookings, err := ledger.ListBookings(ctx, ref)
	if err != nil || len(bookings) != 1 || bookings[0].Status != domain.BookingExpired {
		t.Fatalf("expected one EXPIRED attempt, got %+v err=%v", bookings, err)
	}

	if _, err := ledger.GetSeat(ctx, domain.SeatRef{ShowID: show.ID, SeatID: "Z9"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedger_ExpireSeatSparesNewerHold(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	show := domain.NewShow(1)
	if err := ledger.CreateShow(ctx, show); err != nil {
		t.Fatal(err)
	}
	ref := show.Seats[0].Ref()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "alice", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "bob", now)); err != nil {
		t.Fatal(err)
	}
	if changed, err := ledger.ExpireSeat(ctx, ref, now.Add(-30*time.Second), now); err != nil || changed {
		t.Fatalf("expiry must spare bob's fresh hold, changed=%v err=%v", changed, err)
	}
	if err := ledger.ConfirmSeat(ctx, ref, "bob", now); err != nil {
		t.Fatalf("bob must still confirm, got %v", err)
	}
}

func TestLedger_HolderMatchIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	show := domain.NewShow(1)
	if err := ledger.CreateShow(ctx, show); err != nil {
		t.Fatal(err)
	}
	ref := show.Seats[0].Ref()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := ledger.HoldSeat(ctx, domain.NewBooking(ref, "alice", now)); err != nil {
		t.Fatal(err)
	}
	if err := ledger.ConfirmSeat(ctx, ref, "ALICE", now); !errors.Is(err, domain.ErrNoActiveHold) {
		t.Fatalf("expected no active hold for ALICE, got %v", err)
	}
	if changed, err := ledger.ReleaseSeat(ctx, ref, "Alice", domain.BookingReleased, now); err != nil || changed {
		t.Fatalf("release by Alice must not touch alice's hold, changed=%v err=%v", changed, err)
	}
	seat, _ := ledger.GetSeat(ctx, ref)
	if !seat.HeldBy("alice") {
		t.Fatalf("expected seat still HELD by alice, got %+v", seat)
	}
	bookings, _ := ledger.ListBookings(ctx, ref)
	if len(bookings) != 1 || bookings[0].Status != domain.BookingHeld {
		t.Fatalf("expected alice's attempt still HELD, got %+v", bookings)
	}
}
