package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// CredentialHasher turns a plain roster credential into its stored form.
type CredentialHasher interface {
	Hash(plain string) (string, error)
}

// Config tunes reconciliation.
type Config struct {
	// StrictSections rejects rows whose AD/BC totals differ from A+D/B+C.
	StrictSections bool
}

// Result is the partial-success outcome of a test-result import.
type Result struct {
	InsertedCount int              `json:"insertedCount"`
	Skipped       []score.ScoreKey `json:"skipped"`
	RowErrors     []string         `json:"rowErrors"`
}

// RosterResult is the outcome of a roster import.
type RosterResult struct {
	InsertedOrUpdatedCount int      `json:"insertedOrUpdatedCount"`
	RowErrors              []string `json:"rowErrors"`
}

// Reconciler converts raw rows into repository writes.
type Reconciler struct {
	scores   score.Repository
	students score.StudentRepository
	hasher   CredentialHasher
	config   Config
}

// NewReconciler creates a reconciler. students and hasher may be nil when
// only test results are imported.
func NewReconciler(scores score.Repository, students score.StudentRepository, hasher CredentialHasher, config Config) *Reconciler {
	return &Reconciler{
		scores:   scores,
		students: students,
		hasher:   hasher,
		config:   config,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// ImportTestResults inserts the rows of one exam. Existing keys are never
// overwritten; they are reported in Skipped along with repeated rows of the
// same batch. Row problems are collected in RowErrors and never stop the
// batch. A storage failure aborts the call and is returned as is.
//
// The pre-check against ExistingKeys only produces a friendlier report; keys
// that collide concurrently are still caught by the repository and reported
// as skipped.
func (r *Reconciler) ImportTestResults(ctx context.Context, id score.TestIdentity, rows []ScoreRow) (*Result, error) {
	res := &Result{Skipped: []score.ScoreKey{}, RowErrors: []string{}}

	candidates := make([]score.TestScore, 0, len(rows))
	seen := make(map[score.ScoreKey]struct{}, len(rows))
	for _, row := range rows {
		s, err := row.toScore(id)
		if err != nil {
			res.RowErrors = append(res.RowErrors, err.Error())
			continue
		}
		if r.config.StrictSections && !s.SectionsConsistent() {
			res.RowErrors = append(res.RowErrors, (&RowError{
				Line:   row.Line,
				Reason: fmt.Sprintf("section totals do not match their parts for student %s", s.StudentExternalID),
			}).Error())
			continue
		}
		if _, dup := seen[s.Key()]; dup {
			res.Skipped = append(res.Skipped, s.Key())
			continue
		}
		seen[s.Key()] = struct{}{}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return res, nil
	}

	keys := make([]score.ScoreKey, len(candidates))
	for i, s := range candidates {
		keys[i] = s.Key()
	}
	existing, err := r.scores.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	fresh := make([]score.TestScore, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := existing[s.Key()]; ok {
			res.Skipped = append(res.Skipped, s.Key())
			continue
		}
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 {
		return res, nil
	}

	upserted, err := r.scores.UpsertScores(ctx, fresh)
	if err != nil {
		return nil, err
	}
	res.InsertedCount = upserted.Inserted
	res.Skipped = append(res.Skipped, upserted.Conflicts...)
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER
// ══════════════════════════════════════════════════════════════════════════════

// ImportRoster upserts students by external id. Later rows of the same batch
// win over earlier ones.
func (r *Reconciler) ImportRoster(ctx context.Context, rows []StudentRow) (*RosterResult, error) {
	if r.students == nil {
		return nil, shared.NewDomainError("importer", "ImportRoster", shared.ErrInvalidInput, "no student repository configured")
	}

	res := &RosterResult{RowErrors: []string{}}
	order := make([]string, 0, len(rows))
	byID := make(map[string]score.Student, len(rows))

	for _, row := range rows {
		if err := row.validate(); err != nil {
			res.RowErrors = append(res.RowErrors, err.Error())
			continue
		}
		st := score.Student{
			ExternalID:  strings.TrimSpace(row.ExternalID),
			DisplayName: strings.TrimSpace(row.DisplayName),
		}
		if row.Credential != "" && r.hasher != nil {
			hash, err := r.hasher.Hash(row.Credential)
			if err != nil {
				res.RowErrors = append(res.RowErrors, (&RowError{Line: row.Line, Reason: "credential could not be hashed"}).Error())
				continue
			}
			st.CredentialHash = hash
		}
		if _, ok := byID[st.ExternalID]; !ok {
			order = append(order, st.ExternalID)
		}
		byID[st.ExternalID] = st
	}

	if len(order) == 0 {
		return res, nil
	}

	students := make([]score.Student, 0, len(order))
	for _, id := range order {
		students = append(students, byID[id])
	}

	count, err := r.students.UpsertStudents(ctx, students)
	if err != nil {
		return nil, err
	}
	res.InsertedOrUpdatedCount = count
	return res, nil
}
