package service

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/repository"
	redisrepo "github.com/mbellot/loup-garou/internal/repository/redis"
)

// DeadlineListener drives the match clock. Redis keyspace notifications on
// expired deadline keys give low-latency phase advancement; a polling
// fallback catches deadlines missed while the process was down or when
// notifications are not configured. The same poller also sweeps ended
// matches into retirement.
type DeadlineListener struct {
	rdb          *goredis.Client
	engine       *Engine
	store        repository.MatchStore
	pollInterval time.Duration
	retireAfter  time.Duration
}

// NewDeadlineListener creates a DeadlineListener.
func NewDeadlineListener(rdb *goredis.Client, engine *Engine, store repository.MatchStore, retireAfter time.Duration) *DeadlineListener {
	return &DeadlineListener{
		rdb:          rdb,
		engine:       engine,
		store:        store,
		pollInterval: 5 * time.Second,
		retireAfter:  retireAfter,
	}
}

// Start begins listening for expired key events and runs the polling loop.
// Blocks until ctx is cancelled.
func (d *DeadlineListener) Start(ctx context.Context) {
	go d.listenKeyspace(ctx)
	d.poll(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (d *DeadlineListener) listenKeyspace(ctx context.Context) {
	pubsub := d.rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Deadline listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d.handleExpiry(ctx, msg.Payload)
		}
	}
}

// handleExpiry processes an expired key. Only acts on match deadline keys.
func (d *DeadlineListener) handleExpiry(ctx context.Context, key string) {
	matchID := redisrepo.MatchIDFromDeadlineKey(key)
	if matchID == "" {
		return
	}
	log.Info().Str("matchId", matchID).Msg("Deadline expired, advancing phase")
	if _, err := d.engine.AdvancePhase(ctx, matchID); err != nil && !errors.Is(err, ErrMatchNotFound) {
		log.Error().Err(err).Str("matchId", matchID).Msg("Phase advancement failed after deadline expiry")
	}
}

// poll periodically advances matches past their deadline and retires
// finished ones.
func (d *DeadlineListener) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", d.pollInterval).Msg("Deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Deadline poller stopped")
			return
		case <-ticker.C:
			d.advanceExpired(ctx)
			d.retireEnded(ctx)
		}
	}
}

// advanceExpired finds active matches past their deadline and advances them.
// AdvancePhase is idempotent, so racing the keyspace listener is harmless.
func (d *DeadlineListener) advanceExpired(ctx context.Context) {
	matches, err := d.store.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired matches")
		return
	}
	if len(matches) > 0 {
		log.Info().Int("count", len(matches)).Msg("Poller found expired matches")
	}
	for i := range matches {
		m := &matches[i]
		log.Info().Str("matchId", m.ID).Str("state", string(m.State)).
			Int("round", m.Round).Time("deadline", m.PhaseDeadline).
			Msg("Poller advancing expired phase")
		if _, err := d.engine.AdvancePhase(ctx, m.ID); err != nil {
			log.Error().Err(err).Str("matchId", m.ID).Msg("Phase advancement failed from poller")
		}
	}
}

// retireEnded sweeps matches that finished long enough ago out of the
// live registry.
func (d *DeadlineListener) retireEnded(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.retireAfter)
	matches, err := d.store.ListEndedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list matches pending retirement")
		return
	}
	for i := range matches {
		if err := d.engine.Retire(ctx, matches[i].ID); err != nil {
			log.Error().Err(err).Str("matchId", matches[i].ID).Msg("Match retirement failed")
		}
	}
}
