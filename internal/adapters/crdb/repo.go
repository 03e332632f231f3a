package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

// Repository is the seat ledger on CockroachDB (or any Postgres wire
// compatible database).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return storeErr(err, "set isolation")
	}

	if err := fn(tx); err != nil {
		return txErr(err, "ledger tx")
	}
	return txErr(tx.Commit(ctx), "commit")
}

func txErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return storeErr(err, op)
}

func (r *Repository) Ping(ctx context.Context) error {
	return storeErr(r.pool.Ping(ctx), "ping ledger")
}

func (r *Repository) CreateShow(ctx context.Context, show domain.Show) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO shows (id) VALUES ($1)`, show.ID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, s := range show.Seats {
			batch.Queue(`
				INSERT INTO seats (show_id, seat_id, position, status)
				VALUES ($1, $2, $3, 'AVAILABLE')
			`, show.ID, s.SeatID, s.Position)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *Repository) ListSeats(ctx context.Context, showID uuid.UUID) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT show_id, seat_id, position, status, booked_by, booked_at
		FROM seats WHERE show_id = $1 ORDER BY position
	`, showID)
	if err != nil {
		return nil, storeErr(err, "list seats")
	}
	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, storeErr(err, "scan seat")
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list seats")
	}
	if len(seats) == 0 {
		return nil, domain.ErrNotFound
	}
	return seats, nil
}

func (r *Repository) GetSeat(ctx context.Context, ref domain.SeatRef) (domain.Seat, error) {
	seat, err := scanSeat(r.pool.QueryRow(ctx, `
		SELECT show_id, seat_id, position, status, booked_by, booked_at
		FROM seats WHERE show_id = $1 AND seat_id = $2
	`, ref.ShowID, ref.SeatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seat{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Seat{}, storeErr(err, "get seat")
	}
	return seat, nil
}

// HoldSeat moves the seat to HELD for booking.User and appends the attempt.
// A BOOKED seat is a conflict. A HELD row reaching this point is stale: the
// caller already owns the registry record, so the old attempt is expired.
func (r *Repository) HoldSeat(ctx context.Context, booking domain.Booking) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `
			SELECT status FROM seats WHERE show_id = $1 AND seat_id = $2 FOR UPDATE
		`, booking.ShowID, booking.SeatID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if domain.SeatStatus(status) == domain.SeatBooked {
			return domain.ErrConflict
		}

		if _, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'EXPIRED', updated_at = $3
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD'
		`, booking.ShowID, booking.SeatID, booking.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'HELD', booked_by = $3, booked_at = $4
			WHERE show_id = $1 AND seat_id = $2
		`, booking.ShowID, booking.SeatID, booking.User, booking.CreatedAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO bookings (id, show_id, seat_id, user_name, status, created_at)
			VALUES ($1, $2, $3, $4, 'HELD', $5)
		`, booking.ID, booking.ShowID, booking.SeatID, booking.User, booking.CreatedAt)
		return err
	})
}

// ConfirmSeat books a seat HELD by user. Anything else is ErrNoActiveHold.
func (r *Repository) ConfirmSeat(ctx context.Context, ref domain.SeatRef, user string, at time.Time) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'BOOKED'
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD' AND booked_by = $3
		`, ref.ShowID, ref.SeatID, user)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNoActiveHold
		}
		_, err = tx.Exec(ctx, `
			UPDATE bookings SET status = 'BOOKED', updated_at = $4
			WHERE show_id = $1 AND seat_id = $2 AND user_name = $3 AND status = 'HELD'
		`, ref.ShowID, ref.SeatID, user, at)
		return err
	})
}

// ReleaseSeat returns a seat HELD by holder to AVAILABLE and closes the
// holder's attempt with outcome. Any other seat state is left alone and
// reported as unchanged.
func (r *Repository) ReleaseSeat(ctx context.Context, ref domain.SeatRef, holder string, outcome domain.BookingStatus, at time.Time) (bool, error) {
	changed := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'AVAILABLE', booked_by = NULL, booked_at = NULL
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD' AND booked_by = $3
		`, ref.ShowID, ref.SeatID, holder)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		changed = true
		_, err = tx.Exec(ctx, `
			UPDATE bookings SET status = $4, updated_at = $5
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD' AND user_name = $3
		`, ref.ShowID, ref.SeatID, holder, string(outcome), at)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ExpireSeat returns a HELD seat to AVAILABLE only when its hold started at
// or before heldBefore, and marks that attempt EXPIRED. A hold taken after
// heldBefore is left untouched whoever owns it.
func (r *Repository) ExpireSeat(ctx context.Context, ref domain.SeatRef, heldBefore, at time.Time) (bool, error) {
	changed := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'AVAILABLE', booked_by = NULL, booked_at = NULL
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD' AND booked_at <= $3
		`, ref.ShowID, ref.SeatID, heldBefore)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		changed = true
		_, err = tx.Exec(ctx, `
			UPDATE bookings SET status = 'EXPIRED', updated_at = $4
			WHERE show_id = $1 AND seat_id = $2 AND status = 'HELD' AND created_at <= $3
		`, ref.ShowID, ref.SeatID, heldBefore, at)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListStaleHolds returns HELD seats whose hold started at or before cutoff.
func (r *Repository) ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT show_id, seat_id, position, status, booked_by, booked_at
		FROM seats WHERE status = 'HELD' AND booked_at <= $1
		ORDER BY booked_at LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, storeErr(err, "list stale holds")
	}
	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, storeErr(err, "scan seat")
		}
		seats = append(seats, seat)
	}
	return seats, storeErr(rows.Err(), "list stale holds")
}

func (r *Repository) ListBookings(ctx context.Context, ref domain.SeatRef) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, show_id, seat_id, user_name, status, created_at
		FROM bookings WHERE show_id = $1 AND seat_id = $2
		ORDER BY created_at
	`, ref.ShowID, ref.SeatID)
	if err != nil {
		return nil, storeErr(err, "list bookings")
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var status string
		if err := rows.Scan(&b.ID, &b.ShowID, &b.SeatID, &b.User, &status, &b.CreatedAt); err != nil {
			return nil, storeErr(err, "scan booking")
		}
		b.Status = domain.BookingStatus(status)
		bookings = append(bookings, b)
	}
	return bookings, storeErr(rows.Err(), "list bookings")
}

func scanSeat(row pgx.Row) (domain.Seat, error) {
	var s domain.Seat
	var status string
	if err := row.Scan(&s.ShowID, &s.SeatID, &s.Position, &status, &s.BookedBy, &s.BookedAt); err != nil {
		return domain.Seat{}, err
	}
	s.Status = domain.SeatStatus(status)
	return s, nil
}

// storeErr leaves domain sentinels untouched and marks everything else as a
// store outage so it surfaces as retryable without leaking driver detail.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrNoActiveHold,
		domain.ErrSerializationFailure,
		domain.ErrStoreUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return errors.Mark(errors.Wrap(err, op), domain.ErrStoreUnavailable)
}
