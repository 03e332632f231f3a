package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	driver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
)

// Ledger stores seats and booking attempts in MySQL, the layout the
// reservation system originally shipped with.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, Schema)
	return storeErr(err, "ensure schema")
}

func (l *Ledger) Ping(ctx context.Context) error {
	return storeErr(l.db.PingContext(ctx), "ping ledger")
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return txErr(err, "ledger tx")
	}
	return txErr(tx.Commit(), "commit")
}

// txErr maps deadlocks and lock wait timeouts to the retryable
// serialization failure, like the CockroachDB ledger does for 40001.
func txErr(err error, op string) error {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205) {
		return domain.ErrSerializationFailure
	}
	return storeErr(err, op)
}

func (l *Ledger) CreateShow(ctx context.Context, show domain.Show) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO shows (id) VALUES (?)`, show.ID.String()); err != nil {
			return err
		}
		if len(show.Seats) == 0 {
			return nil
		}
		var sb strings.Builder
		sb.WriteString(`INSERT INTO seats (show_id, seat_id, position, status) VALUES `)
		args := make([]interface{}, 0, len(show.Seats)*3)
		for i, s := range show.Seats {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, 'AVAILABLE')")
			args = append(args, show.ID.String(), s.SeatID, s.Position)
		}
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	})
}

const seatColumns = `show_id, seat_id, position, status, booked_by, booked_at`

func (l *Ledger) ListSeats(ctx context.Context, showID uuid.UUID) ([]domain.Seat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE show_id = ? ORDER BY position`, showID.String())
	if err != nil {
		return nil, storeErr(err, "list seats")
	}
	seats, err := scanSeats(rows)
	if err != nil {
		return nil, storeErr(err, "list seats")
	}
	if len(seats) == 0 {
		return nil, domain.ErrNotFound
	}
	return seats, nil
}

func (l *Ledger) GetSeat(ctx context.Context, ref domain.SeatRef) (domain.Seat, error) {
	seat, err := scanSeat(l.db.QueryRowContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE show_id = ? AND seat_id = ?`, ref.ShowID.String(), ref.SeatID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Seat{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Seat{}, storeErr(err, "get seat")
	}
	return seat, nil
}

// HoldSeat mirrors the CockroachDB ledger: BOOKED is a conflict, a stale HELD
// row is taken over and its attempt expired.
func (l *Ledger) HoldSeat(ctx context.Context, booking domain.Booking) error {
	showID := booking.ShowID.String()
	return l.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM seats WHERE show_id = ? AND seat_id = ? FOR UPDATE`, showID, booking.SeatID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if domain.SeatStatus(status) == domain.SeatBooked {
			return domain.ErrConflict
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'EXPIRED', updated_at = ? WHERE show_id = ? AND seat_id = ? AND status = 'HELD'`,
			booking.CreatedAt, showID, booking.SeatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE seats SET status = 'HELD', booked_by = ?, booked_at = ? WHERE show_id = ? AND seat_id = ?`,
			booking.User, booking.CreatedAt, showID, booking.SeatID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bookings (id, show_id, seat_id, user_name, status, created_at) VALUES (?, ?, ?, ?, 'HELD', ?)`,
			booking.ID.String(), showID, booking.SeatID, booking.User, booking.CreatedAt)
		return err
	})
}

func (l *Ledger) ConfirmSeat(ctx context.Context, ref domain.SeatRef, user string, at time.Time) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE seats SET status = 'BOOKED' WHERE show_id = ? AND seat_id = ? AND status = 'HELD' AND booked_by = ?`,
			ref.ShowID.String(), ref.SeatID, user)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrNoActiveHold
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'BOOKED', updated_at = ? WHERE show_id = ? AND seat_id = ? AND user_name = ? AND status = 'HELD'`,
			at, ref.ShowID.String(), ref.SeatID, user)
		return err
	})
}

func (l *Ledger) ReleaseSeat(ctx context.Context, ref domain.SeatRef, holder string, outcome domain.BookingStatus, at time.Time) (bool, error) {
	changed := false
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE seats SET status = 'AVAILABLE', booked_by = NULL, booked_at = NULL
			 WHERE show_id = ? AND seat_id = ? AND status = 'HELD' AND booked_by = ?`,
			ref.ShowID.String(), ref.SeatID, holder)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		changed = true
		_, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, updated_at = ?
			 WHERE show_id = ? AND seat_id = ? AND status = 'HELD' AND user_name = ?`,
			string(outcome), at, ref.ShowID.String(), ref.SeatID, holder)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ExpireSeat frees a HELD seat whose hold started at or before heldBefore.
func (l *Ledger) ExpireSeat(ctx context.Context, ref domain.SeatRef, heldBefore, at time.Time) (bool, error) {
	changed := false
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE seats SET status = 'AVAILABLE', booked_by = NULL, booked_at = NULL
			 WHERE show_id = ? AND seat_id = ? AND status = 'HELD' AND booked_at <= ?`,
			ref.ShowID.String(), ref.SeatID, heldBefore)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		changed = true
		_, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'EXPIRED', updated_at = ?
			 WHERE show_id = ? AND seat_id = ? AND status = 'HELD' AND created_at <= ?`,
			at, ref.ShowID.String(), ref.SeatID, heldBefore)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (l *Ledger) ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Seat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE status = 'HELD' AND booked_at <= ? ORDER BY booked_at LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, storeErr(err, "list stale holds")
	}
	seats, err := scanSeats(rows)
	return seats, storeErr(err, "list stale holds")
}

func (l *Ledger) ListBookings(ctx context.Context, ref domain.SeatRef) ([]domain.Booking, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, show_id, seat_id, user_name, status, created_at FROM bookings
		 WHERE show_id = ? AND seat_id = ? ORDER BY created_at`, ref.ShowID.String(), ref.SeatID)
	if err != nil {
		return nil, storeErr(err, "list bookings")
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var id, showID, status string
		if err := rows.Scan(&id, &showID, &b.SeatID, &b.User, &status, &b.CreatedAt); err != nil {
			return nil, storeErr(err, "scan booking")
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, storeErr(err, "parse booking id")
		}
		if b.ShowID, err = uuid.Parse(showID); err != nil {
			return nil, storeErr(err, "parse show id")
		}
		b.Status = domain.BookingStatus(status)
		bookings = append(bookings, b)
	}
	return bookings, storeErr(rows.Err(), "list bookings")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSeat(row rowScanner) (domain.Seat, error) {
	var (
		s        domain.Seat
		showID   string
		status   string
		bookedBy sql.NullString
		bookedAt sql.NullTime
	)
	if err := row.Scan(&showID, &s.SeatID, &s.Position, &status, &bookedBy, &bookedAt); err != nil {
		return domain.Seat{}, err
	}
	id, err := uuid.Parse(showID)
	if err != nil {
		return domain.Seat{}, err
	}
	s.ShowID = id
	s.Status = domain.SeatStatus(status)
	if bookedBy.Valid {
		s.BookedBy = &bookedBy.String
	}
	if bookedAt.Valid {
		t := bookedAt.Time
		s.BookedAt = &t
	}
	return s, nil
}

func scanSeats(rows *sql.Rows) ([]domain.Seat, error) {
	defer rows.Close()
	var seats []domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

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
