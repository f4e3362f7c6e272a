package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "scores.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertScoresReportsConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	row := score.TestScore{StudentExternalID: "S1", TestName: "Mock", TestDate: "2024-01-01", SectionAD: 140, SectionBC: 45, TotalScore: 185}

	res, err := s.UpsertScores(ctx, []score.TestScore{row})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Empty(t, res.Conflicts)

	row.TotalScore = 1
	res, err = s.UpsertScores(ctx, []score.TestScore{row})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, []score.ScoreKey{row.Key()}, res.Conflicts)

	stored, err := s.ListScoresByTest(ctx, row.Identity())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 185.0, stored[0].TotalScore)
	assert.Equal(t, 140.0, stored[0].SectionAD)
	assert.Equal(t, "2024-01-01", stored[0].TestDate)
	assert.False(t, stored[0].CreatedAt.IsZero())
}

func TestStore_ExistingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	records := make([]score.TestScore, 0, 400)
	for i := 0; i < 400; i++ {
		records = append(records, score.TestScore{
			StudentExternalID: "S" + string(rune('A'+i%26)) + string(rune('a'+i/26)),
			TestName:          "Mock",
			TestDate:          "2024-03-01",
		})
	}
	_, err := s.UpsertScores(ctx, records)
	require.NoError(t, err)

	keys := []score.ScoreKey{records[0].Key(), records[399].Key(), {StudentExternalID: "nobody", TestName: "Mock", TestDate: "2024-03-01"}}
	for _, r := range records[1:350] {
		keys = append(keys, r.Key())
	}

	found, err := s.ExistingKeys(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, found, 351)
	assert.Contains(t, found, records[399].Key())
	assert.NotContains(t, found, score.ScoreKey{StudentExternalID: "nobody", TestName: "Mock", TestDate: "2024-03-01"})
}

func TestStore_ConcurrentUpsertsNeverDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	row := score.TestScore{StudentExternalID: "S1", TestName: "Mock", TestDate: "2024-01-01"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpsertScores(ctx, []score.TestScore{row})
		}()
	}
	wg.Wait()

	all, err := s.ListAllScores(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ListTestsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.UpsertScores(ctx, []score.TestScore{
		{StudentExternalID: "S1", TestName: "A", TestDate: "2024-01-01"},
		{StudentExternalID: "S2", TestName: "A", TestDate: "2024-01-01"},
		{StudentExternalID: "S1", TestName: "B", TestDate: "2024-02-01"},
	})
	require.NoError(t, err)

	tests, err := s.ListTests(ctx)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, score.TestIdentity{Name: "B", Date: "2024-02-01"}, tests[0].Identity)
	assert.Equal(t, 2, tests[1].StudentCount)

	n, err := s.DeleteScoresByTest(ctx, score.TestIdentity{Name: "A", Date: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	history, err := s.ListScoresByStudent(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "B", history[0].TestName)
}

func TestStore_Students(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertStudents(ctx, []score.Student{
		{ExternalID: "S2", DisplayName: "Bea", CredentialHash: "h2"},
		{ExternalID: "S1", DisplayName: "Ann", CredentialHash: "h1"},
	})
	require.NoError(t, err)
	first, err := s.GetStudentByExternalID(ctx, "S1")
	require.NoError(t, err)

	_, err = s.UpsertStudents(ctx, []score.Student{{ExternalID: "S1", DisplayName: "Anna"}})
	require.NoError(t, err)

	st, err := s.GetStudentByExternalID(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", st.DisplayName)
	assert.Equal(t, "h1", st.CredentialHash)
	assert.Equal(t, first.ID, st.ID)

	roster, err := s.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "S1", roster[0].ExternalID)

	_, err = s.GetStudentByExternalID(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(context.Background(), "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	tests, err := s.ListTests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tests)
}
