package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/clock"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const auditCollection = "audit_logs"

// AuditLogger appends hold, confirm and release actions to a Mongo
// collection. It is a side record only and is never read on the request path.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	clock  clock.Clock
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection(auditCollection),
		logger: logger,
		clock:  clock.NewSystem(),
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	ShowID    string    `bson:"show_id"`
	SeatID    string    `bson:"seat_id"`
	User      string    `bson:"user"`
	Timestamp time.Time `bson:"timestamp"`
}

// EnsureIndexes creates the per-seat lookup index.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "show_id", Value: 1}, {Key: "seat_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return errors.Wrap(err, "create audit index")
}

func (a *AuditLogger) Record(ctx context.Context, action string, ref domain.SeatRef, user string) error {
	entry := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		ShowID:    ref.ShowID.String(),
		SeatID:    ref.SeatID,
		User:      user,
		Timestamp: a.clock.Now(),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Mark(errors.Wrap(err, "insert audit log"), domain.ErrStoreUnavailable)
	}
	return nil
}

// ForSeat returns the recorded actions for one seat, oldest first.
func (a *AuditLogger) ForSeat(ctx context.Context, ref domain.SeatRef) ([]AuditLog, error) {
	filter := bson.M{"show_id": ref.ShowID.String(), "seat_id": ref.SeatID}
	cur, err := a.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "find audit logs"), domain.ErrStoreUnavailable)
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
