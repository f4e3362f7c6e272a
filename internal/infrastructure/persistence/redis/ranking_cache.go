package redis

import (
	"context"
	"errors"
	"time"

	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/pkg/circuitbreaker"
)

// RankingCache stores computed aggregate rankings per policy and cache
// generation. Writers bump the generation after every import or deletion,
// so a ranking computed from an older snapshot lands under a key no reader
// asks for and expires with its TTL.
//
// Reads and writes go through a circuit breaker; invalidation never does.
type RankingCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// NewRankingCache creates a RankingCache. opts tune its circuit breaker.
func NewRankingCache(cache *Cache, ttl time.Duration, opts ...circuitbreaker.Option) *RankingCache {
	if ttl <= 0 {
		ttl = TTLRankingCache
	}
	opts = append([]circuitbreaker.Option{
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrCacheSerialization)
		}),
	}, opts...)
	return &RankingCache{
		cache:   cache,
		ttl:     ttl,
		breaker: circuitbreaker.New("ranking-cache", opts...),
	}
}

// Breaker exposes the breaker state for health reporting.
func (r *RankingCache) Breaker() *circuitbreaker.Breaker {
	return r.breaker
}

// GetTotal returns the ranking cached for policy in the current generation,
// and that generation. While the breaker is open it reports a miss with a
// negative generation, which tells the caller not to store its result.
func (r *RankingCache) GetTotal(ctx context.Context, policy ranking.Policy) ([]ranking.AggregateEntry, int64, bool, error) {
	var (
		entries    []ranking.AggregateEntry
		generation int64
	)
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		generation, err = r.cache.GetInt(ctx, KeyRankingGeneration)
		if err != nil {
			return err
		}
		return r.cache.Get(ctx, RankingKey(string(policy), generation), &entries)
	})
	switch {
	case err == nil:
		return entries, generation, true, nil
	case errors.Is(err, ErrCacheMiss):
		return nil, generation, false, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return nil, -1, false, nil
	default:
		return nil, -1, false, err
	}
}

// SetTotal caches the ranking for policy under generation. It is a no-op for
// a negative generation or while the breaker is open.
func (r *RankingCache) SetTotal(ctx context.Context, policy ranking.Policy, generation int64, entries []ranking.AggregateEntry) error {
	if generation < 0 {
		return nil
	}
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.cache.Set(ctx, RankingKey(string(policy), generation), entries, r.ttl)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil
	}
	return err
}

// InvalidateRankings starts a new generation, retiring every cached ranking.
func (r *RankingCache) InvalidateRankings(ctx context.Context) error {
	_, err := r.cache.Incr(ctx, KeyRankingGeneration)
	return err
}
