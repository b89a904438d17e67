package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

// EventStore is the part of the appointment repository the relay reads from.
type EventStore interface {
	ListUndispatchedEvents(ctx context.Context, limit int) ([]appointment.EventLog, error)
	MarkEventsDispatched(ctx context.Context, ids []int64, at time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, ev appointment.EventLog) error
}

// Relay forwards event log rows to the publisher in id order. Delivery is at least
// once: a row is marked only after it was published, so a crash in between resends it.
type Relay struct {
	store      EventStore
	publisher  Publisher
	logger     zerolog.Logger
	batchSize  int
	runTimeout time.Duration
	now        func() time.Time
}

func New(store EventStore, publisher Publisher, batchSize int, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:      store,
		publisher:  publisher,
		logger:     logger.With().Str("component", "event-relay").Logger(),
		batchSize:  batchSize,
		runTimeout: 20 * time.Second,
		now:        time.Now,
	}
}

// RunOnce publishes one batch and returns how many rows were dispatched. It stops at
// the first publish failure so ordering is kept.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.ListUndispatchedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list undispatched events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	sent := make([]int64, 0, len(events))
	var publishErr error
	for _, ev := range events {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			publishErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		sent = append(sent, ev.ID)
	}

	if len(sent) > 0 {
		if err := r.store.MarkEventsDispatched(ctx, sent, r.now()); err != nil {
			return 0, fmt.Errorf("mark events dispatched: %w", err)
		}
	}

	return len(sent), publishErr
}

// Run drains once at startup and then on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.logger.Error().Err(err).Int("dispatched", n).Msg("relay run failed")
		return
	}
	if n > 0 {
		r.logger.Info().Int("dispatched", n).Dur("took", time.Since(start)).Msg("relay run complete")
	}
}
