package query_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/internal/application/command"
	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/prediction"
	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/internal/domain/trend"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/memory"
)

func row(id, date string, total, ad, bc float64) score.TestScore {
	return score.TestScore{StudentExternalID: id, TestName: "Mock", TestDate: date, TotalScore: total, SectionAD: ad, SectionBC: bc}
}

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertScores(ctx, []score.TestScore{
		row("S1", "2024-01-01", 145, 110, 35),
		row("S2", "2024-01-01", 150, 135, 45),
		row("S3", "2024-01-01", 100, 70, 30),
		row("S1", "2024-02-01", 160, 125, 40),
		row("S2", "2024-02-01", 160, 120, 40),
		row("S3", "2024-02-01", 120, 90, 30),
		row("S1", "2024-03-01", 190, 140, 48),
		row("S2", "2024-03-01", 150, 110, 40),
	})
	require.NoError(t, err)
	_, err = store.UpsertStudents(ctx, []score.Student{
		{ExternalID: "S1", DisplayName: "Ann"},
		{ExternalID: "S2", DisplayName: "Bob"},
		{ExternalID: "S9", DisplayName: "New"},
	})
	require.NoError(t, err)
	return store
}

type mapCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string][]ranking.AggregateEntry
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]ranking.AggregateEntry{}}
}

func cacheKey(p ranking.Policy, generation int64) string {
	return fmt.Sprintf("%s:%d", p, generation)
}

func (c *mapCache) GetTotal(_ context.Context, p ranking.Policy) ([]ranking.AggregateEntry, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(p, c.generation)]
	return e, c.generation, ok, nil
}

func (c *mapCache) SetTotal(_ context.Context, p ranking.Policy, generation int64, e []ranking.AggregateEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(p, generation)] = e
	return nil
}

func (c *mapCache) InvalidateRankings(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return nil
}

// interleavedStore runs afterList once, right after the first full read.
type interleavedStore struct {
	*memory.Store
	once      sync.Once
	afterList func()
}

func (s *interleavedStore) ListAllScores(ctx context.Context) ([]score.TestScore, error) {
	all, err := s.Store.ListAllScores(ctx)
	s.once.Do(s.afterList)
	return all, err
}

func TestListTests(t *testing.T) {
	tests, err := query.NewListTestsHandler(seeded(t)).Handle(context.Background())
	require.NoError(t, err)
	require.Len(t, tests, 3)
	assert.Equal(t, "2024-03-01", tests[0].Identity.Date)
	assert.Equal(t, 2, tests[0].StudentCount)
}

func TestGetTestRanking_TiesAndNames(t *testing.T) {
	store := seeded(t)
	h := query.NewGetTestRankingHandler(store, store)

	res, err := h.Handle(context.Background(), query.GetTestRankingQuery{TestName: "Mock", TestDate: "2024/02/01"})
	require.NoError(t, err)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, 3, res.Participants)
	ranks := []ranking.Rank{res.Entries[0].Rank, res.Entries[1].Rank, res.Entries[2].Rank}
	assert.Equal(t, []ranking.Rank{1, 1, 3}, ranks)
	assert.Equal(t, "Ann", res.Entries[0].DisplayName)
	assert.Equal(t, "S3", res.Entries[2].DisplayName)

	top, err := h.Handle(context.Background(), query.GetTestRankingQuery{TestName: "Mock", TestDate: "2024-02-01", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, top.Entries, 1)
}

func TestGetTestRanking_EmptyExam(t *testing.T) {
	store := seeded(t)
	res, err := query.NewGetTestRankingHandler(store, nil).Handle(context.Background(), query.GetTestRankingQuery{TestName: "Nope", TestDate: "2024-02-01"})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 0, res.Participants)
}

func TestGetTestStats(t *testing.T) {
	h := query.NewGetTestStatsHandler(seeded(t))

	b, err := h.Handle(context.Background(), "Mock", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Count)
	assert.InDelta(t, 440.0/3, b.AvgTotal, 1e-9)

	empty, err := h.Handle(context.Background(), "Nope", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.AvgTotal)

	_, err = h.Handle(context.Background(), "Mock", "yesterday")
	assert.True(t, shared.IsValidation(err))
}

func TestGetTotalRanking_PoliciesAndCache(t *testing.T) {
	store := seeded(t)
	cache := newMapCache()
	h := query.NewGetTotalRankingHandler(store, store, cache, "", nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, query.GetTotalRankingQuery{})
	require.NoError(t, err)
	assert.Equal(t, ranking.PolicyAverageRank, res.Policy)
	assert.False(t, res.Cached)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, ranking.Rank(1), res.Entries[0].Rank)
	assert.Equal(t, ranking.Rank(1), res.Entries[1].Rank)
	assert.Equal(t, "S1", res.Entries[0].StudentExternalID)
	assert.Equal(t, ranking.Rank(3), res.Entries[2].Rank)

	again, err := h.Handle(ctx, query.GetTotalRankingQuery{Limit: 2})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Len(t, again.Entries, 2)

	byScore, err := h.Handle(ctx, query.GetTotalRankingQuery{Policy: "score"})
	require.NoError(t, err)
	assert.Equal(t, ranking.PolicyAverageScore, byScore.Policy)
	assert.Equal(t, []string{"S1", "S2", "S3"}, []string{
		byScore.Entries[0].StudentExternalID, byScore.Entries[1].StudentExternalID, byScore.Entries[2].StudentExternalID,
	})
	assert.Equal(t, ranking.Rank(2), byScore.Entries[1].Rank)

	_, err = h.Handle(ctx, query.GetTotalRankingQuery{Policy: "median"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetTotalRanking_ImportDuringComputationIsNotCached(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	store := &interleavedStore{Store: seeded(t)}
	imports := command.NewImportTestResultsHandler(
		importer.NewReconciler(store.Store, store.Store, nil, importer.Config{}), nil, cache, nil)
	store.afterList = func() {
		res, err := imports.Handle(ctx, command.ImportTestResultsCommand{
			TestName: "Mock",
			TestDate: "2024-03-01",
			Rows: []importer.ScoreRow{{
				Line: 2, ColumnCount: 10, StudentExternalID: "S4",
				SectionAD: "140", SectionBC: "50", TotalScore: "200",
			}},
		})
		if assert.NoError(t, err) {
			assert.Equal(t, 1, res.InsertedCount)
		}
	}
	h := query.NewGetTotalRankingHandler(store, store, cache, "", nil)

	stale, err := h.Handle(ctx, query.GetTotalRankingQuery{})
	require.NoError(t, err)
	assert.False(t, stale.Cached)
	assert.Len(t, stale.Entries, 3)

	fresh, err := h.Handle(ctx, query.GetTotalRankingQuery{})
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	require.Len(t, fresh.Entries, 4)
	ids := make([]string, 0, len(fresh.Entries))
	for _, e := range fresh.Entries {
		ids = append(ids, e.StudentExternalID)
	}
	assert.Contains(t, ids, "S4")

	cached, err := h.Handle(ctx, query.GetTotalRankingQuery{})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Len(t, cached.Entries, 4)
}

func TestGetStudentReport(t *testing.T) {
	store := seeded(t)
	h := query.NewGetStudentReportHandler(store, store, "")

	r, err := h.Handle(context.Background(), "S1")
	require.NoError(t, err)

	assert.Equal(t, "Ann", r.DisplayName)
	assert.Equal(t, 3, r.ExamCount)
	assert.Equal(t, 1, r.PassCount)
	require.Len(t, r.Exams, 3)

	latest := r.Exams[0]
	assert.Equal(t, "2024-03-01", latest.Score.TestDate)
	assert.Equal(t, ranking.Rank(1), latest.Rank)
	assert.Equal(t, 2, latest.Participants)
	assert.True(t, latest.Passed)
	require.NotNil(t, latest.DeltaTotal)
	assert.Equal(t, 30.0, *latest.DeltaTotal)
	assert.Equal(t, 15.0, *latest.DeltaAD)
	assert.Nil(t, r.Exams[2].DeltaTotal)

	assert.Equal(t, trend.DirectionUp, r.Trend.Direction)
	require.NotNil(t, r.Aggregate)
	assert.Equal(t, ranking.Rank(1), r.Aggregate.Rank)
	assert.InDelta(t, 0.6, r.Prediction.Confidence, 1e-9)
}

func TestGetStudentReport_RosterOnlyAndUnknown(t *testing.T) {
	store := seeded(t)
	h := query.NewGetStudentReportHandler(store, store, ranking.PolicyAverageScore)

	r, err := h.Handle(context.Background(), "S9")
	require.NoError(t, err)
	assert.Empty(t, r.Exams)
	assert.Nil(t, r.Aggregate)
	assert.Equal(t, trend.DirectionNeutral, r.Trend.Direction)
	assert.Equal(t, 0.1, r.Prediction.Confidence)

	_, err = h.Handle(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestPredictStudent_UsesStoredRanksAndAverages(t *testing.T) {
	store := seeded(t)
	h := query.NewPredictOutcomeHandler(store, store, 2)

	p, err := h.PredictStudent(context.Background(), "S1")
	require.NoError(t, err)
	require.NotNil(t, p.Prediction.Features)
	assert.True(t, p.Prediction.Features.HasRank)
	assert.Equal(t, 1, p.Prediction.Features.LatestRank)
	assert.True(t, p.Prediction.Features.LatestHasBaseline)
	assert.Equal(t, "Ann", p.DisplayName)
	assert.Len(t, p.Visualization.ChartData, 2)

	_, err = h.PredictStudent(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestPredictHistory_Empty(t *testing.T) {
	h := query.NewPredictOutcomeHandler(memory.NewStore(), nil, 0)

	p := h.PredictHistory([]prediction.HistoryEntry{})
	assert.Equal(t, 0.5, p.Prediction.GraduationProbability)
	assert.Equal(t, 0.1, p.Prediction.Confidence)
}

func TestPredictAll_OrderedAndBounded(t *testing.T) {
	store := seeded(t)
	all, err := query.NewPredictOutcomeHandler(store, store, 2).PredictAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)

	for i, p := range all {
		assert.GreaterOrEqual(t, p.Prediction.GraduationProbability, 0.0)
		assert.LessOrEqual(t, p.Prediction.GraduationProbability, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, all[i-1].Prediction.GraduationProbability, p.Prediction.GraduationProbability)
		}
	}
}

func TestQueries_PropagateStorageErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := seeded(t)

	_, err := query.NewGetTotalRankingHandler(store, store, nil, "", nil).Handle(ctx, query.GetTotalRankingQuery{})
	assert.True(t, shared.IsStorage(err))

	_, err = query.NewPredictOutcomeHandler(store, store, 1).PredictAll(ctx)
	assert.True(t, shared.IsStorage(err))
}
