// Package memory provides an in-process score store. It enforces the same
// uniqueness rules as the SQL backends and is used for demos and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// Store keeps students and scores in maps guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	scores   map[score.ScoreKey]score.TestScore
	students map[string]score.Student
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		scores:   make(map[score.ScoreKey]score.TestScore),
		students: make(map[string]score.Student),
		now:      time.Now,
	}
}

var _ score.Store = (*Store)(nil)

// ──────────────────────────────────────────────────────────────────────────────
// SCORES
// ──────────────────────────────────────────────────────────────────────────────

// ListScoresByStudent returns a student's rows ordered by date then name.
func (s *Store) ListScoresByStudent(ctx context.Context, studentExternalID string) ([]score.TestScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ListScoresByStudent", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]score.TestScore, 0)
	for k, v := range s.scores {
		if k.StudentExternalID == studentExternalID {
			out = append(out, v)
		}
	}
	return score.SortChronological(out), nil
}

// ListScoresByTest returns every row of one exam ordered by student id.
func (s *Store) ListScoresByTest(ctx context.Context, id score.TestIdentity) ([]score.TestScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ListScoresByTest", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]score.TestScore, 0)
	for k, v := range s.scores {
		if k.Identity() == id {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentExternalID < out[j].StudentExternalID })
	return out, nil
}

// ListAllScores returns every row ordered by date, name and student.
func (s *Store) ListAllScores(ctx context.Context) ([]score.TestScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ListAllScores", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]score.TestScore, 0, len(s.scores))
	for _, v := range s.scores {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TestDate != out[j].TestDate {
			return out[i].TestDate < out[j].TestDate
		}
		if out[i].TestName != out[j].TestName {
			return out[i].TestName < out[j].TestName
		}
		return out[i].StudentExternalID < out[j].StudentExternalID
	})
	return out, nil
}

// ListTests returns exams ordered by date descending, then name.
func (s *Store) ListTests(ctx context.Context) ([]score.TestSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ListTests", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[score.TestIdentity]int)
	for k := range s.scores {
		counts[k.Identity()]++
	}
	out := make([]score.TestSummary, 0, len(counts))
	for id, n := range counts {
		out = append(out, score.TestSummary{Identity: id, StudentCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Date != out[j].Identity.Date {
			return out[i].Identity.Date > out[j].Identity.Date
		}
		return out[i].Identity.Name < out[j].Identity.Name
	})
	return out, nil
}

// ExistingKeys returns the stored subset of keys.
func (s *Store) ExistingKeys(ctx context.Context, keys []score.ScoreKey) (map[score.ScoreKey]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ExistingKeys", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[score.ScoreKey]struct{})
	for _, k := range keys {
		if _, ok := s.scores[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

// UpsertScores inserts new keys and reports existing ones as conflicts.
func (s *Store) UpsertScores(ctx context.Context, records []score.TestScore) (score.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := score.UpsertResult{Conflicts: []score.ScoreKey{}}
	for _, rec := range records {
		k := rec.Key()
		if _, ok := s.scores[k]; ok {
			res.Conflicts = append(res.Conflicts, k)
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now().UTC()
		}
		s.scores[k] = rec
		res.Inserted++
	}
	return res, nil
}

// DeleteScoresByTest removes every row of one exam.
func (s *Store) DeleteScoresByTest(ctx context.Context, id score.TestIdentity) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, shared.StorageError("DeleteScoresByTest", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for k := range s.scores {
		if k.Identity() == id {
			delete(s.scores, k)
			deleted++
		}
	}
	return deleted, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// STUDENTS
// ──────────────────────────────────────────────────────────────────────────────

// UpsertStudents inserts or overwrites students by external id.
func (s *Store) UpsertStudents(ctx context.Context, students []score.Student) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, shared.StorageError("UpsertStudents", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, st := range students {
		if existing, ok := s.students[st.ExternalID]; ok {
			st.ID = existing.ID
			st.CreatedAt = existing.CreatedAt
			if st.CredentialHash == "" {
				st.CredentialHash = existing.CredentialHash
			}
		} else {
			if st.ID == "" {
				st.ID = uuid.NewString()
			}
			st.CreatedAt = now
		}
		st.UpdatedAt = now
		s.students[st.ExternalID] = st
	}
	return len(students), nil
}

// ListStudents returns the roster ordered by external id.
func (s *Store) ListStudents(ctx context.Context) ([]score.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("ListStudents", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]score.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// GetStudentByExternalID returns shared.ErrStudentNotFound when absent.
func (s *Store) GetStudentByExternalID(ctx context.Context, externalID string) (*score.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.StorageError("GetStudentByExternalID", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[externalID]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return &st, nil
}
