package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	driver "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection. parseTime and UTC
// locations are forced so DATETIME columns scan into time.Time consistently.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true

	connector, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "mysql connector")
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}

const Schema = `
CREATE TABLE IF NOT EXISTS shows (
	id CHAR(36) PRIMARY KEY,
	created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
);
CREATE TABLE IF NOT EXISTS seats (
	show_id CHAR(36) NOT NULL,
	seat_id VARCHAR(32) NOT NULL,
	position INT NOT NULL,
	status ENUM('AVAILABLE', 'HELD', 'BOOKED') NOT NULL DEFAULT 'AVAILABLE',
	booked_by VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NULL,
	booked_at DATETIME(6) NULL,
	PRIMARY KEY (show_id, seat_id),
	KEY seats_held_idx (status, booked_at),
	CONSTRAINT seats_show_fk FOREIGN KEY (show_id) REFERENCES shows (id),
	CONSTRAINT seats_holder_chk CHECK ((status = 'AVAILABLE') = (booked_by IS NULL))
);
CREATE TABLE IF NOT EXISTS bookings (
	id CHAR(36) PRIMARY KEY,
	show_id CHAR(36) NOT NULL,
	seat_id VARCHAR(32) NOT NULL,
	user_name VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	status ENUM('HELD', 'BOOKED', 'EXPIRED', 'RELEASED') NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NULL,
	KEY bookings_seat_idx (show_id, seat_id, status)
);
`
