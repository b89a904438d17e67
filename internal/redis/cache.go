package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

const (
	defaultAvailabilityTTL = 30 * time.Second
	// generationTTL outlives any entry so a counter never resets under a reader.
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes the entry only when the (clinic, date) generation still
// equals the one the reader saw before it queried the store.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// AvailabilityCache stores the free slots of a (clinic, date) as a JSON array.
// It is only a read optimisation; bookings are never decided from it.
//
// Every (clinic, date) has a generation counter that Invalidate bumps. A reader
// that misses gets the generation back and may only fill the entry while it is
// unchanged, so a list computed before a booking change is never written after it.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
	}
}

func availabilityKey(clinicID uuid.UUID, date appointment.Date) string {
	return fmt.Sprintf("availability:%s:%s", clinicID.String(), date.String())
}

func generationKey(clinicID uuid.UUID, date appointment.Date) string {
	return fmt.Sprintf("availability:gen:%s:%s", clinicID.String(), date.String())
}

func (c *AvailabilityCache) GetAvailability(ctx context.Context, clinicID uuid.UUID, date appointment.Date) ([]slot.Slot, int64, bool, error) {
	vals, err := c.client.MGet(ctx, availabilityKey(clinicID, date), generationKey(clinicID, date)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get availability: %w", err)
	}

	var gen int64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("parse availability generation %q: %w", raw, err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}

	var free []slot.Slot
	if err := json.Unmarshal([]byte(raw), &free); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next read.
		return nil, gen, false, nil
	}
	for _, s := range free {
		if !slot.Valid(s) {
			return nil, gen, false, nil
		}
	}
	return free, gen, true, nil
}

// SetAvailability stores free for (clinicID, date) unless the generation moved past
// gen. A skipped write is not an error.
func (c *AvailabilityCache) SetAvailability(ctx context.Context, clinicID uuid.UUID, date appointment.Date, gen int64, free []slot.Slot) error {
	if free == nil {
		free = []slot.Slot{}
	}
	raw, err := json.Marshal(free)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	keys := []string{availabilityKey(clinicID, date), generationKey(clinicID, date)}
	err = setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

// Invalidate bumps the generation and drops the entry in one transaction.
func (c *AvailabilityCache) Invalidate(ctx context.Context, clinicID uuid.UUID, date appointment.Date) error {
	genKey := generationKey(clinicID, date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, availabilityKey(clinicID, date))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	return nil
}
