package reservation_test

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type holdRecord struct {
	holder   string
	deadline time.Time
}

// fakeRegistry is an in-memory hold registry. Expired records vanish on
// access and, when expired is set, their keys are sent there. afterAcquire
// runs once a record has been stored.
type fakeRegistry struct {
	mu           sync.Mutex
	clock        *fakeClock
	records      map[string]holdRecord
	down         bool
	expired      chan string
	afterAcquire func()
}

func newFakeRegistry(clk *fakeClock) *fakeRegistry {
	return &fakeRegistry{clock: clk, records: make(map[string]holdRecord), expired: make(chan string, 64)}
}

func (r *fakeRegistry) sweepLocked() {
	now := r.clock.Now()
	for key, rec := range r.records {
		if !now.Before(rec.deadline) {
			delete(r.records, key)
			select {
			case r.expired <- key:
			default:
			}
		}
	}
}

// Expire drops all records past their deadline and emits expiry events.
func (r *fakeRegistry) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
}

func (r *fakeRegistry) err() error {
	if r.down {
		return errors.Mark(errors.New("dial tcp: connection refused"), domain.ErrStoreUnavailable)
	}
	return nil
}

func (r *fakeRegistry) TryAcquire(_ context.Context, ref domain.SeatRef, holder string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err(); err != nil {
		return false, err
	}
	r.sweepLocked()
	if _, ok := r.records[ref.HoldKey()]; ok {
		return false, nil
	}
	r.records[ref.HoldKey()] = holdRecord{holder: holder, deadline: r.clock.Now().Add(ttl)}
	if r.afterAcquire != nil {
		r.afterAcquire()
	}
	return true, nil
}

func (r *fakeRegistry) Release(_ context.Context, ref domain.SeatRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err(); err != nil {
		return err
	}
	delete(r.records, ref.HoldKey())
	return nil
}

func (r *fakeRegistry) ReleaseIfHolder(_ context.Context, ref domain.SeatRef, holder string) (domain.HoldRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err(); err != nil {
		return domain.HoldAbsent, err
	}
	r.sweepLocked()
	rec, ok := r.records[ref.HoldKey()]
	switch {
	case !ok:
		return domain.HoldAbsent, nil
	case rec.holder != holder:
		return domain.HoldHeldByOther, nil
	}
	delete(r.records, ref.HoldKey())
	return domain.HoldReleased, nil
}

func (r *fakeRegistry) Peek(_ context.Context, ref domain.SeatRef) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err(); err != nil {
		return "", false, err
	}
	r.sweepLocked()
	rec, ok := r.records[ref.HoldKey()]
	return rec.holder, ok, nil
}

func (r *fakeRegistry) Expirations(ctx context.Context) (<-chan string, error) {
	return r.expired, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	seats    map[domain.SeatRef]domain.Seat
	bookings []domain.Booking
	down     bool
	writes   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seats: make(map[domain.SeatRef]domain.Seat)}
}

func (l *fakeLedger) err() error {
	if l.down {
		return errors.Mark(errors.New("connection reset"), domain.ErrStoreUnavailable)
	}
	return nil
}

func (l *fakeLedger) CreateShow(_ context.Context, show domain.Show) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return err
	}
	for _, s := range show.Seats {
		l.seats[s.Ref()] = s
	}
	return nil
}

func (l *fakeLedger) ListSeats(_ context.Context, showID uuid.UUID) ([]domain.Seat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return nil, err
	}
	var seats []domain.Seat
	for _, s := range l.seats {
		if s.ShowID == showID {
			seats = append(seats, s)
		}
	}
	if len(seats) == 0 {
		return nil, domain.ErrNotFound
	}
	return seats, nil
}

func (l *fakeLedger) GetSeat(_ context.Context, ref domain.SeatRef) (domain.Seat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return domain.Seat{}, err
	}
	s, ok := l.seats[ref]
	if !ok {
		return domain.Seat{}, domain.ErrNotFound
	}
	return s, nil
}

func (l *fakeLedger) setBookings(ref domain.SeatRef, user string, from, to domain.BookingStatus) {
	for i, b := range l.bookings {
		if b.ShowID == ref.ShowID && b.SeatID == ref.SeatID && b.Status == from && (user == "" || b.User == user) {
			l.bookings[i].Status = to
		}
	}
}

func (l *fakeLedger) HoldSeat(_ context.Context, booking domain.Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return err
	}
	ref := domain.SeatRef{ShowID: booking.ShowID, SeatID: booking.SeatID}
	s, ok := l.seats[ref]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status == domain.SeatBooked {
		return domain.ErrConflict
	}
	l.setBookings(ref, "", domain.BookingHeld, domain.BookingExpired)
	user, at := booking.User, booking.CreatedAt
	s.Status, s.BookedBy, s.BookedAt = domain.SeatHeld, &user, &at
	l.seats[ref] = s
	l.bookings = append(l.bookings, booking)
	l.writes++
	return nil
}

func (l *fakeLedger) ConfirmSeat(_ context.Context, ref domain.SeatRef, user string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return err
	}
	s := l.seats[ref]
	if !s.HeldBy(user) {
		return domain.ErrNoActiveHold
	}
	s.Status = domain.SeatBooked
	l.seats[ref] = s
	l.setBookings(ref, user, domain.BookingHeld, domain.BookingBooked)
	l.writes++
	return nil
}

func (l *fakeLedger) ReleaseSeat(_ context.Context, ref domain.SeatRef, holder string, outcome domain.BookingStatus, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return false, err
	}
	s, ok := l.seats[ref]
	if !ok || !s.HeldBy(holder) {
		return false, nil
	}
	s.Status, s.BookedBy, s.BookedAt = domain.SeatAvailable, nil, nil
	l.seats[ref] = s
	l.setBookings(ref, holder, domain.BookingHeld, outcome)
	l.writes++
	return true, nil
}

func (l *fakeLedger) ExpireSeat(_ context.Context, ref domain.SeatRef, heldBefore, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return false, err
	}
	s, ok := l.seats[ref]
	if !ok || s.Status != domain.SeatHeld || s.BookedAt.After(heldBefore) {
		return false, nil
	}
	s.Status, s.BookedBy, s.BookedAt = domain.SeatAvailable, nil, nil
	l.seats[ref] = s
	for i, b := range l.bookings {
		if b.ShowID == ref.ShowID && b.SeatID == ref.SeatID && b.Status == domain.BookingHeld && !b.CreatedAt.After(heldBefore) {
			l.bookings[i].Status = domain.BookingExpired
		}
	}
	l.writes++
	return true, nil
}

func (l *fakeLedger) ListStaleHolds(_ context.Context, cutoff time.Time, limit int) ([]domain.Seat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.err(); err != nil {
		return nil, err
	}
	var seats []domain.Seat
	for _, s := range l.seats {
		if s.Status == domain.SeatHeld && !s.BookedAt.After(cutoff) && len(seats) < limit {
			seats = append(seats, s)
		}
	}
	return seats, nil
}

func (l *fakeLedger) ListBookings(_ context.Context, ref domain.SeatRef) ([]domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Booking
	for _, b := range l.bookings {
		if b.ShowID == ref.ShowID && b.SeatID == ref.SeatID {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (n *fakeNotifier) Publish(_ context.Context, ev domain.ChangeEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAuditor) Record(_ context.Context, action string, _ domain.SeatRef, _ string) error {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.mu.Unlock()
	return nil
}
