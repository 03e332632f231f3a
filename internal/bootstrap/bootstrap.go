// Package bootstrap opens the process-wide store connections shared by the
// api and expiry-worker commands.
package bootstrap

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-holds/internal/adapters/crdb"
	"github.com/robertarktes/seat-holds/internal/adapters/mysql"
	"github.com/robertarktes/seat-holds/internal/config"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/reservation"
)

// Ledger is everything the processes need from a ledger backend.
type Ledger interface {
	reservation.Ledger
	ExpireSeat(ctx context.Context, ref domain.SeatRef, heldBefore, at time.Time) (bool, error)
	ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Seat, error)
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

// OpenLedger connects to the backend named by cfg.LedgerDriver and applies
// the schema. The returned func closes the connection pool.
func OpenLedger(ctx context.Context, cfg *config.Config) (Ledger, func(), error) {
	var (
		ledger Ledger
		closer func()
	)
	switch cfg.LedgerDriver {
	case config.LedgerMySQL:
		if cfg.MySQLDSN == "" {
			return nil, nil, errors.New("MYSQL_DSN is required for the mysql ledger")
		}
		db, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		ledger, closer = mysql.NewLedger(db), func() { db.Close() }
	default:
		if cfg.CRDBDSN == "" {
			return nil, nil, errors.New("CRDB_DSN is required for the crdb ledger")
		}
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to crdb")
		}
		ledger, closer = crdb.NewRepository(pool), pool.Close
	}

	if err := ledger.EnsureSchema(ctx); err != nil {
		closer()
		return nil, nil, errors.Wrap(err, "ensure ledger schema")
	}
	return ledger, closer, nil
}

func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
