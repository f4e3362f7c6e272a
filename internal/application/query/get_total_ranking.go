package query

import (
	"context"

	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TOTAL RANKING QUERY
// Cross-exam ranking under a configurable policy.
// ══════════════════════════════════════════════════════════════════════════════

// RankingCache stores computed aggregate rankings per cache generation.
// GetTotal reports the generation it read, before the snapshot is taken;
// SetTotal stores a result under that generation only. Writers retire a
// generation after committing, so a ranking computed from a snapshot that
// predates a write is never served after it. A negative generation means
// the result must not be stored.
type RankingCache interface {
	GetTotal(ctx context.Context, policy ranking.Policy) (entries []ranking.AggregateEntry, generation int64, ok bool, err error)
	SetTotal(ctx context.Context, policy ranking.Policy, generation int64, entries []ranking.AggregateEntry) error
}

// GetTotalRankingQuery selects the policy; empty means the configured
// default. Limit 0 returns every entry.
type GetTotalRankingQuery struct {
	Policy string
	Limit  int
}

// TotalRankingResult is the aggregate ranking.
type TotalRankingResult struct {
	Policy  ranking.Policy           `json:"policy"`
	Entries []ranking.AggregateEntry `json:"entries"`
	Cached  bool                     `json:"cached"`
}

// GetTotalRankingHandler handles GetTotalRankingQuery.
type GetTotalRankingHandler struct {
	scores        score.Repository
	students      score.StudentRepository
	cache         RankingCache
	defaultPolicy ranking.Policy
	log           *logger.Logger
}

// NewGetTotalRankingHandler creates the handler. cache and log may be nil.
func NewGetTotalRankingHandler(
	scores score.Repository,
	students score.StudentRepository,
	cache RankingCache,
	defaultPolicy ranking.Policy,
	log *logger.Logger,
) *GetTotalRankingHandler {
	if defaultPolicy == "" {
		defaultPolicy = ranking.DefaultPolicy
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetTotalRankingHandler{
		scores:        scores,
		students:      students,
		cache:         cache,
		defaultPolicy: defaultPolicy,
		log:           log.With(logger.Component("total_ranking")),
	}
}

// Handle returns the aggregate ranking, served from the cache when present.
func (h *GetTotalRankingHandler) Handle(ctx context.Context, q GetTotalRankingQuery) (*TotalRankingResult, error) {
	policy := h.defaultPolicy
	if q.Policy != "" {
		p, err := ranking.ParsePolicy(q.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	entries, generation, cached := h.fromCache(ctx, policy)
	if !cached {
		snap, err := loadSnapshot(ctx, h.scores, h.students)
		if err != nil {
			return nil, err
		}
		entries = ranking.RankAggregate(snap.scores, policy, snap.names)
		h.toCache(ctx, policy, generation, entries)
	}

	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}
	return &TotalRankingResult{Policy: policy, Entries: entries, Cached: cached}, nil
}

func (h *GetTotalRankingHandler) fromCache(ctx context.Context, policy ranking.Policy) ([]ranking.AggregateEntry, int64, bool) {
	if h.cache == nil {
		return nil, -1, false
	}
	entries, generation, ok, err := h.cache.GetTotal(ctx, policy)
	if err != nil {
		h.log.Warn("ranking cache read failed", logger.Policy(string(policy)), logger.Err(err))
		return nil, -1, false
	}
	return entries, generation, ok
}

func (h *GetTotalRankingHandler) toCache(ctx context.Context, policy ranking.Policy, generation int64, entries []ranking.AggregateEntry) {
	if h.cache == nil || generation < 0 {
		return
	}
	if err := h.cache.SetTotal(ctx, policy, generation, entries); err != nil {
		h.log.Warn("ranking cache write failed", logger.Policy(string(policy)), logger.Err(err))
	}
}
