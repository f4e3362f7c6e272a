// Package query contains the read use cases of the score portal. Each
// handler batch-fetches the rows it needs once per request and computes
// every derived value locally with the pure domain packages.
package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/score-portal/score-portal/internal/domain/prediction"
	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/statistics"
)

// snapshot is one consistent read of every score and the roster.
type snapshot struct {
	scores       []score.TestScore
	students     map[string]score.Student
	names        ranking.Names
	ranks        map[score.ScoreKey]ranking.Rank
	participants map[score.TestIdentity]int
	baselines    map[score.TestIdentity]statistics.Baseline
	byStudent    map[string][]score.TestScore
}

// loadSnapshot fetches all scores and the roster concurrently. students may
// be nil.
func loadSnapshot(ctx context.Context, scores score.Repository, students score.StudentRepository) (*snapshot, error) {
	var (
		all    []score.TestScore
		roster []score.Student
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = scores.ListAllScores(gctx)
		return err
	})
	if students != nil {
		g.Go(func() error {
			var err error
			roster, err = students.ListStudents(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newSnapshot(all, roster), nil
}

func newSnapshot(all []score.TestScore, roster []score.Student) *snapshot {
	s := &snapshot{
		scores:    all,
		students:  make(map[string]score.Student, len(roster)),
		names:     make(ranking.Names, len(roster)),
		baselines: statistics.ComputeAll(all),
		byStudent: make(map[string][]score.TestScore),
	}
	for _, st := range roster {
		s.students[st.ExternalID] = st
		s.names[st.ExternalID] = st.DisplayName
	}
	s.ranks, s.participants = ranking.RanksByKey(all)
	for _, row := range all {
		s.byStudent[row.StudentExternalID] = append(s.byStudent[row.StudentExternalID], row)
	}
	return s
}

// known reports whether the student has scores or a roster entry.
func (s *snapshot) known(studentExternalID string) bool {
	if _, ok := s.students[studentExternalID]; ok {
		return true
	}
	_, ok := s.byStudent[studentExternalID]
	return ok
}

func (s *snapshot) displayName(studentExternalID string) string {
	if name := s.names[studentExternalID]; name != "" {
		return name
	}
	return studentExternalID
}

// studentIDs returns every student with scores or a roster entry, sorted.
func (s *snapshot) studentIDs() []string {
	seen := make(map[string]struct{}, len(s.byStudent)+len(s.students))
	for id := range s.byStudent {
		seen[id] = struct{}{}
	}
	for id := range s.students {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// history builds the predictor input of one student, most recent first.
func (s *snapshot) history(studentExternalID string) []prediction.HistoryEntry {
	rows := s.byStudent[studentExternalID]
	ranks := make(map[score.ScoreKey]int, len(rows))
	averages := make(map[score.TestIdentity]float64, len(rows))
	for _, row := range rows {
		ranks[row.Key()] = int(s.ranks[row.Key()])
		if b, ok := s.baselines[row.Identity()]; ok {
			averages[row.Identity()] = b.AvgTotal
		}
	}
	return prediction.FromScores(rows, ranks, averages)
}
