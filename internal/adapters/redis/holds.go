package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-holds/internal/domain"
)

// releaseIfHolder deletes KEYS[1] only when it still stores ARGV[1].
// Returns 1 released, 0 absent, -1 held by someone else.
var releaseIfHolder = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
if v == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return -1
`)

// HoldRegistry keeps one TTL-bound record per seat. Every failure to reach
// Redis is reported as domain.ErrStoreUnavailable so callers fail closed.
type HoldRegistry struct {
	client *redis.Client
}

func NewHoldRegistry(client *redis.Client) *HoldRegistry {
	return &HoldRegistry{client: client}
}

func (h *HoldRegistry) Client() *redis.Client {
	return h.client
}

// TryAcquire stores holder for the seat only if no record exists.
func (h *HoldRegistry) TryAcquire(ctx context.Context, ref domain.SeatRef, holder string, ttl time.Duration) (bool, error) {
	ok, err := h.client.SetNX(ctx, ref.HoldKey(), holder, ttl).Result()
	if err != nil {
		return false, unavailable(err, "acquire hold")
	}
	return ok, nil
}

func (h *HoldRegistry) Release(ctx context.Context, ref domain.SeatRef) error {
	if err := h.client.Del(ctx, ref.HoldKey()).Err(); err != nil {
		return unavailable(err, "release hold")
	}
	return nil
}

func (h *HoldRegistry) ReleaseIfHolder(ctx context.Context, ref domain.SeatRef, holder string) (domain.HoldRelease, error) {
	res, err := releaseIfHolder.Run(ctx, h.client, []string{ref.HoldKey()}, holder).Int()
	if err != nil {
		return domain.HoldAbsent, unavailable(err, "release hold for holder")
	}
	switch res {
	case 1:
		return domain.HoldReleased, nil
	case -1:
		return domain.HoldHeldByOther, nil
	default:
		return domain.HoldAbsent, nil
	}
}

// Peek returns the current holder without touching the record.
func (h *HoldRegistry) Peek(ctx context.Context, ref domain.SeatRef) (string, bool, error) {
	holder, err := h.client.Get(ctx, ref.HoldKey()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(err, "peek hold")
	}
	return holder, true, nil
}

// TTL reports the remaining lifetime of a live record, zero when absent.
func (h *HoldRegistry) TTL(ctx context.Context, ref domain.SeatRef) (time.Duration, error) {
	d, err := h.client.PTTL(ctx, ref.HoldKey()).Result()
	if err != nil {
		return 0, unavailable(err, "hold ttl")
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (h *HoldRegistry) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return unavailable(err, "ping redis")
	}
	return nil
}

func unavailable(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrStoreUnavailable)
}
