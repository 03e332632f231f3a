package crdb

import "context"

// Schema is applied by EnsureSchema. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS shows (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS seats (
	show_id UUID NOT NULL REFERENCES shows (id),
	seat_id TEXT NOT NULL,
	position INT NOT NULL,
	status TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE', 'HELD', 'BOOKED')),
	booked_by TEXT,
	booked_at TIMESTAMPTZ,
	PRIMARY KEY (show_id, seat_id),
	CHECK ((status = 'AVAILABLE') = (booked_by IS NULL))
);
CREATE INDEX IF NOT EXISTS seats_held_idx ON seats (status, booked_at);
CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	show_id UUID NOT NULL,
	seat_id TEXT NOT NULL,
	user_name TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('HELD', 'BOOKED', 'EXPIRED', 'RELEASED')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS bookings_seat_idx ON bookings (show_id, seat_id, status);
`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return storeErr(err, "ensure schema")
}
