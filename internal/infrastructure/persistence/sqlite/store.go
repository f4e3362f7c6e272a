// Package sqlite implements the score store on an embedded SQLite database
// through sqlx and the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// keysPerQuery bounds the number of row values in one ExistingKeys lookup.
const keysPerQuery = 300

// Store implements score.Store on SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ score.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// An empty path or ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn, inMemory := buildDSN(path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if inMemory {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func buildDSN(path string) (string, bool) {
	if path == "" || path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)", true
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ensureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  external_id TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL DEFAULT '',
  credential_hash TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS test_scores (
  id TEXT PRIMARY KEY,
  student_external_id TEXT NOT NULL,
  test_name TEXT NOT NULL,
  test_date TEXT NOT NULL,
  section_a REAL NOT NULL DEFAULT 0,
  section_b REAL NOT NULL DEFAULT 0,
  section_c REAL NOT NULL DEFAULT 0,
  section_d REAL NOT NULL DEFAULT 0,
  section_ad REAL NOT NULL DEFAULT 0,
  section_bc REAL NOT NULL DEFAULT 0,
  total_score REAL NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  UNIQUE (student_external_id, test_name, test_date)
);

CREATE INDEX IF NOT EXISTS idx_test_scores_test ON test_scores(test_name, test_date);
CREATE INDEX IF NOT EXISTS idx_test_scores_student ON test_scores(student_external_id);
`

// ──────────────────────────────────────────────────────────────────────────────
// ROWS
// ──────────────────────────────────────────────────────────────────────────────

type scoreRow struct {
	ID                string  `db:"id"`
	StudentExternalID string  `db:"student_external_id"`
	TestName          string  `db:"test_name"`
	TestDate          string  `db:"test_date"`
	SectionA          float64 `db:"section_a"`
	SectionB          float64 `db:"section_b"`
	SectionC          float64 `db:"section_c"`
	SectionD          float64 `db:"section_d"`
	SectionAD         float64 `db:"section_ad"`
	SectionBC         float64 `db:"section_bc"`
	TotalScore        float64 `db:"total_score"`
	CreatedAt         int64   `db:"created_at"`
}

func (r scoreRow) toDomain() score.TestScore {
	return score.TestScore{
		ID:                r.ID,
		StudentExternalID: r.StudentExternalID,
		TestName:          r.TestName,
		TestDate:          r.TestDate,
		SectionA:          r.SectionA,
		SectionB:          r.SectionB,
		SectionC:          r.SectionC,
		SectionD:          r.SectionD,
		SectionAD:         r.SectionAD,
		SectionBC:         r.SectionBC,
		TotalScore:        r.TotalScore,
		CreatedAt:         time.Unix(0, r.CreatedAt).UTC(),
	}
}

type studentRow struct {
	ID             string `db:"id"`
	ExternalID     string `db:"external_id"`
	DisplayName    string `db:"display_name"`
	CredentialHash string `db:"credential_hash"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r studentRow) toDomain() score.Student {
	return score.Student{
		ID:             r.ID,
		ExternalID:     r.ExternalID,
		DisplayName:    r.DisplayName,
		CredentialHash: r.CredentialHash,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:      time.Unix(0, r.UpdatedAt).UTC(),
	}
}

const scoreColumns = `id, student_external_id, test_name, test_date,
  section_a, section_b, section_c, section_d, section_ad, section_bc,
  total_score, created_at`

// ──────────────────────────────────────────────────────────────────────────────
// SCORES
// ──────────────────────────────────────────────────────────────────────────────

// ListScoresByStudent returns a student's rows ordered by date then name.
func (s *Store) ListScoresByStudent(ctx context.Context, studentExternalID string) ([]score.TestScore, error) {
	return s.selectScores(ctx, "ListScoresByStudent",
		`SELECT `+scoreColumns+` FROM test_scores WHERE student_external_id = ? ORDER BY test_date, test_name`,
		studentExternalID)
}

// ListScoresByTest returns every row of one exam ordered by student.
func (s *Store) ListScoresByTest(ctx context.Context, id score.TestIdentity) ([]score.TestScore, error) {
	return s.selectScores(ctx, "ListScoresByTest",
		`SELECT `+scoreColumns+` FROM test_scores WHERE test_name = ? AND test_date = ? ORDER BY student_external_id`,
		id.Name, id.Date)
}

// ListAllScores returns every row.
func (s *Store) ListAllScores(ctx context.Context) ([]score.TestScore, error) {
	return s.selectScores(ctx, "ListAllScores",
		`SELECT `+scoreColumns+` FROM test_scores ORDER BY test_date, test_name, student_external_id`)
}

func (s *Store) selectScores(ctx context.Context, op, query string, args ...any) ([]score.TestScore, error) {
	var rows []scoreRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, shared.StorageError(op, err)
	}
	out := make([]score.TestScore, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListTests returns exams ordered by date descending, then name.
func (s *Store) ListTests(ctx context.Context) ([]score.TestSummary, error) {
	var rows []struct {
		Name  string `db:"test_name"`
		Date  string `db:"test_date"`
		Count int    `db:"student_count"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT test_name, test_date, COUNT(*) AS student_count
		FROM test_scores
		GROUP BY test_name, test_date
		ORDER BY test_date DESC, test_name`)
	if err != nil {
		return nil, shared.StorageError("ListTests", err)
	}

	out := make([]score.TestSummary, len(rows))
	for i, r := range rows {
		out[i] = score.TestSummary{
			Identity:     score.TestIdentity{Name: r.Name, Date: r.Date},
			StudentCount: r.Count,
		}
	}
	return out, nil
}

// ExistingKeys returns the stored subset of keys.
func (s *Store) ExistingKeys(ctx context.Context, keys []score.ScoreKey) (map[score.ScoreKey]struct{}, error) {
	out := make(map[score.ScoreKey]struct{})

	for start := 0; start < len(keys); start += keysPerQuery {
		end := start + keysPerQuery
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*3)
		for i, k := range chunk {
			values[i] = "(?, ?, ?)"
			args = append(args, k.StudentExternalID, k.TestName, k.TestDate)
		}
		query := `SELECT student_external_id, test_name, test_date FROM test_scores
			WHERE (student_external_id, test_name, test_date) IN (VALUES ` + strings.Join(values, ", ") + `)`

		var found []struct {
			StudentExternalID string `db:"student_external_id"`
			TestName          string `db:"test_name"`
			TestDate          string `db:"test_date"`
		}
		if err := s.db.SelectContext(ctx, &found, query, args...); err != nil {
			return nil, shared.StorageError("ExistingKeys", err)
		}
		for _, f := range found {
			out[score.ScoreKey{StudentExternalID: f.StudentExternalID, TestName: f.TestName, TestDate: f.TestDate}] = struct{}{}
		}
	}
	return out, nil
}

// UpsertScores inserts all records in one transaction. Existing keys are
// left untouched and reported as conflicts.
func (s *Store) UpsertScores(ctx context.Context, records []score.TestScore) (score.UpsertResult, error) {
	res := score.UpsertResult{Conflicts: []score.ScoreKey{}}
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO test_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_external_id, test_name, test_date) DO NOTHING`)
	if err != nil {
		return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		result, err := stmt.ExecContext(ctx,
			id, rec.StudentExternalID, rec.TestName, rec.TestDate,
			rec.SectionA, rec.SectionB, rec.SectionC, rec.SectionD,
			rec.SectionAD, rec.SectionBC, rec.TotalScore, createdAt.UnixNano(),
		)
		if err != nil {
			return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
		}
		if affected == 0 {
			res.Conflicts = append(res.Conflicts, rec.Key())
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
	}
	return res, nil
}

// DeleteScoresByTest removes every row of one exam.
func (s *Store) DeleteScoresByTest(ctx context.Context, id score.TestIdentity) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM test_scores WHERE test_name = ? AND test_date = ?`, id.Name, id.Date)
	if err != nil {
		return 0, shared.StorageError("DeleteScoresByTest", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, shared.StorageError("DeleteScoresByTest", err)
	}
	return int(n), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// STUDENTS
// ──────────────────────────────────────────────────────────────────────────────

// UpsertStudents inserts or overwrites students by external id. An empty
// credential keeps the stored hash.
func (s *Store) UpsertStudents(ctx context.Context, students []score.Student) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, shared.StorageError("UpsertStudents", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC().UnixNano()
	for _, st := range students {
		id := st.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO students (id, external_id, display_name, credential_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (external_id) DO UPDATE SET
				display_name = excluded.display_name,
				credential_hash = CASE
					WHEN excluded.credential_hash <> '' THEN excluded.credential_hash
					ELSE students.credential_hash
				END,
				updated_at = excluded.updated_at`,
			id, st.ExternalID, st.DisplayName, st.CredentialHash, now, now)
		if err != nil {
			return 0, shared.StorageError("UpsertStudents", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, shared.StorageError("UpsertStudents", err)
	}
	return len(students), nil
}

// ListStudents returns the roster ordered by external id.
func (s *Store) ListStudents(ctx context.Context) ([]score.Student, error) {
	var rows []studentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, external_id, display_name, credential_hash, created_at, updated_at
		FROM students ORDER BY external_id`)
	if err != nil {
		return nil, shared.StorageError("ListStudents", err)
	}
	out := make([]score.Student, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// GetStudentByExternalID returns shared.ErrStudentNotFound when absent.
func (s *Store) GetStudentByExternalID(ctx context.Context, externalID string) (*score.Student, error) {
	var row studentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, external_id, display_name, credential_hash, created_at, updated_at
		FROM students WHERE external_id = ?`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, shared.StorageError("GetStudentByExternalID", err)
	}
	st := row.toDomain()
	return &st, nil
}
