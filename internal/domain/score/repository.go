package score

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the read/write contract over persisted score rows.
// Every method fails with a storage error (shared.ErrStorage) on I/O failure;
// callers must not assume any partial effect survived a failed call.
type Repository interface {
	// ──────────────────────────────────────────────────────────────────────────
	// READS
	// ──────────────────────────────────────────────────────────────────────────

	// ListScoresByStudent returns a student's rows in a deterministic order.
	ListScoresByStudent(ctx context.Context, studentExternalID string) ([]TestScore, error)

	// ListScoresByTest returns every row of one exam.
	ListScoresByTest(ctx context.Context, id TestIdentity) ([]TestScore, error)

	// ListAllScores returns every stored row.
	ListAllScores(ctx context.Context) ([]TestScore, error)

	// ListTests returns exams ordered by date descending, then name.
	ListTests(ctx context.Context) ([]TestSummary, error)

	// ExistingKeys returns the subset of keys already stored.
	ExistingKeys(ctx context.Context, keys []ScoreKey) (map[ScoreKey]struct{}, error)

	// ──────────────────────────────────────────────────────────────────────────
	// WRITES
	// ──────────────────────────────────────────────────────────────────────────

	// UpsertScores inserts records keyed by (student, test name, test date).
	// Existing keys are never overwritten; they are reported in Conflicts.
	UpsertScores(ctx context.Context, records []TestScore) (UpsertResult, error)

	// DeleteScoresByTest removes every student's row for one exam.
	DeleteScoresByTest(ctx context.Context, id TestIdentity) (int, error)
}

// StudentRepository is the contract over the roster.
type StudentRepository interface {
	// UpsertStudents inserts or overwrites students by external id and
	// returns the number of rows inserted or updated.
	UpsertStudents(ctx context.Context, students []Student) (int, error)

	// ListStudents returns the roster ordered by external id.
	ListStudents(ctx context.Context) ([]Student, error)

	// GetStudentByExternalID returns shared.ErrStudentNotFound when absent.
	GetStudentByExternalID(ctx context.Context, externalID string) (*Student, error)
}

// Store combines both repositories, as provided by every backend.
type Store interface {
	Repository
	StudentRepository
}

// UpsertResult reports the outcome of UpsertScores.
type UpsertResult struct {
	Inserted  int
	Conflicts []ScoreKey
}

// TestSummary describes one exam for listings.
type TestSummary struct {
	Identity     TestIdentity `json:"identity"`
	StudentCount int          `json:"studentCount"`
}
