package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ScoreRepository implements score.Repository for PostgreSQL.
type ScoreRepository struct {
	conn *Connection
}

// NewScoreRepository creates a new ScoreRepository.
func NewScoreRepository(conn *Connection) *ScoreRepository {
	return &ScoreRepository{conn: conn}
}

var _ score.Repository = (*ScoreRepository)(nil)

const scoreColumns = `
	id, student_external_id, test_name, test_date,
	section_a, section_b, section_c, section_d, section_ad, section_bc,
	total_score, created_at`

const insertScoreSQL = `
	INSERT INTO test_scores (` + scoreColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (student_external_id, test_name, test_date) DO NOTHING`

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// ListScoresByStudent returns a student's rows ordered by date then name.
func (r *ScoreRepository) ListScoresByStudent(ctx context.Context, studentExternalID string) ([]score.TestScore, error) {
	query := `SELECT ` + scoreColumns + ` FROM test_scores
		WHERE student_external_id = $1
		ORDER BY test_date, test_name`
	return r.list(ctx, "ListScoresByStudent", query, studentExternalID)
}

// ListScoresByTest returns every row of one exam ordered by student.
func (r *ScoreRepository) ListScoresByTest(ctx context.Context, id score.TestIdentity) ([]score.TestScore, error) {
	date, err := parseDate(id.Date)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + scoreColumns + ` FROM test_scores
		WHERE test_name = $1 AND test_date = $2
		ORDER BY student_external_id`
	return r.list(ctx, "ListScoresByTest", query, id.Name, date)
}

// ListAllScores returns every row.
func (r *ScoreRepository) ListAllScores(ctx context.Context) ([]score.TestScore, error) {
	query := `SELECT ` + scoreColumns + ` FROM test_scores
		ORDER BY test_date, test_name, student_external_id`
	return r.list(ctx, "ListAllScores", query)
}

// ListTests returns exams ordered by date descending, then name.
func (r *ScoreRepository) ListTests(ctx context.Context) ([]score.TestSummary, error) {
	q, err := r.conn.querier()
	if err != nil {
		return nil, shared.StorageError("ListTests", err)
	}

	rows, err := q.Query(ctx, `
		SELECT test_name, test_date, COUNT(*)
		FROM test_scores
		GROUP BY test_name, test_date
		ORDER BY test_date DESC, test_name`)
	if err != nil {
		return nil, shared.StorageError("ListTests", err)
	}
	defer rows.Close()

	out := make([]score.TestSummary, 0)
	for rows.Next() {
		var (
			name  string
			date  time.Time
			count int
		)
		if err := rows.Scan(&name, &date, &count); err != nil {
			return nil, shared.StorageError("ListTests", err)
		}
		out = append(out, score.TestSummary{
			Identity:     score.TestIdentity{Name: name, Date: date.Format(score.DateLayout)},
			StudentCount: count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("ListTests", err)
	}
	return out, nil
}

// ExistingKeys returns the stored subset of keys in one round trip.
func (r *ScoreRepository) ExistingKeys(ctx context.Context, keys []score.ScoreKey) (map[score.ScoreKey]struct{}, error) {
	out := make(map[score.ScoreKey]struct{})
	if len(keys) == 0 {
		return out, nil
	}

	ids := make([]string, len(keys))
	names := make([]string, len(keys))
	dates := make([]time.Time, len(keys))
	for i, k := range keys {
		d, err := parseDate(k.TestDate)
		if err != nil {
			return nil, err
		}
		ids[i], names[i], dates[i] = k.StudentExternalID, k.TestName, d
	}

	q, err := r.conn.querier()
	if err != nil {
		return nil, shared.StorageError("ExistingKeys", err)
	}
	rows, err := q.Query(ctx, `
		SELECT s.student_external_id, s.test_name, s.test_date
		FROM test_scores s
		JOIN unnest($1::text[], $2::text[], $3::date[]) AS k(student_external_id, test_name, test_date)
		  ON s.student_external_id = k.student_external_id
		 AND s.test_name = k.test_name
		 AND s.test_date = k.test_date`, ids, names, dates)
	if err != nil {
		return nil, shared.StorageError("ExistingKeys", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k score.ScoreKey
		var d time.Time
		if err := rows.Scan(&k.StudentExternalID, &k.TestName, &d); err != nil {
			return nil, shared.StorageError("ExistingKeys", err)
		}
		k.TestDate = d.Format(score.DateLayout)
		out[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("ExistingKeys", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// UpsertScores inserts all records in one transaction using a batch.
// Rows whose key already exists affect nothing and are reported as
// conflicts, so concurrent importers can never create duplicates.
func (r *ScoreRepository) UpsertScores(ctx context.Context, records []score.TestScore) (score.UpsertResult, error) {
	res := score.UpsertResult{Conflicts: []score.ScoreKey{}}
	if len(records) == 0 {
		return res, nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, rec := range records {
		date, err := parseDate(rec.TestDate)
		if err != nil {
			return res, err
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(insertScoreSQL,
			id, rec.StudentExternalID, rec.TestName, date,
			rec.SectionA, rec.SectionB, rec.SectionC, rec.SectionD,
			rec.SectionAD, rec.SectionBC, rec.TotalScore, createdAt,
		)
	}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		inserted := 0
		conflicts := make([]score.ScoreKey, 0)

		br := tx.SendBatch(ctx, batch)
		for _, rec := range records {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("insert score %s/%s: %w", rec.StudentExternalID, rec.TestName, err)
			}
			if tag.RowsAffected() == 0 {
				conflicts = append(conflicts, rec.Key())
			} else {
				inserted++
			}
		}
		if err := br.Close(); err != nil {
			return err
		}

		res.Inserted = inserted
		res.Conflicts = conflicts
		return nil
	})
	if err != nil {
		return score.UpsertResult{}, shared.StorageError("UpsertScores", err)
	}
	return res, nil
}

// DeleteScoresByTest removes every row of one exam.
func (r *ScoreRepository) DeleteScoresByTest(ctx context.Context, id score.TestIdentity) (int, error) {
	date, err := parseDate(id.Date)
	if err != nil {
		return 0, err
	}
	q, err := r.conn.querier()
	if err != nil {
		return 0, shared.StorageError("DeleteScoresByTest", err)
	}

	tag, err := q.Exec(ctx, `DELETE FROM test_scores WHERE test_name = $1 AND test_date = $2`, id.Name, date)
	if err != nil {
		return 0, shared.StorageError("DeleteScoresByTest", err)
	}
	return int(tag.RowsAffected()), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *ScoreRepository) list(ctx context.Context, op, query string, args ...any) ([]score.TestScore, error) {
	q, err := r.conn.querier()
	if err != nil {
		return nil, shared.StorageError(op, err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.StorageError(op, err)
	}
	defer rows.Close()

	out := make([]score.TestScore, 0)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, shared.StorageError(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError(op, err)
	}
	return out, nil
}

func scanScore(row pgx.Row) (score.TestScore, error) {
	var (
		s    score.TestScore
		date time.Time
	)
	err := row.Scan(
		&s.ID, &s.StudentExternalID, &s.TestName, &date,
		&s.SectionA, &s.SectionB, &s.SectionC, &s.SectionD,
		&s.SectionAD, &s.SectionBC, &s.TotalScore, &s.CreatedAt,
	)
	if err != nil {
		return score.TestScore{}, err
	}
	s.TestDate = date.Format(score.DateLayout)
	return s, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(score.DateLayout, s)
	if err != nil {
		return time.Time{}, shared.ErrInvalidTestDate
	}
	return t, nil
}
