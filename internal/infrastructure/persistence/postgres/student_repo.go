package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements score.StudentRepository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

var _ score.StudentRepository = (*StudentRepository)(nil)

// An empty credential keeps the stored hash.
const upsertStudentSQL = `
	INSERT INTO students (id, external_id, display_name, credential_hash, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW(), NOW())
	ON CONFLICT (external_id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		credential_hash = CASE
			WHEN EXCLUDED.credential_hash <> '' THEN EXCLUDED.credential_hash
			ELSE students.credential_hash
		END,
		updated_at = NOW()`

// UpsertStudents inserts or overwrites students by external id in a single
// transaction.
func (r *StudentRepository) UpsertStudents(ctx context.Context, students []score.Student) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, st := range students {
		id := st.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(upsertStudentSQL, id, st.ExternalID, st.DisplayName, st.CredentialHash)
	}

	count := 0
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		n := 0
		for _, st := range students {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert student %s: %w", st.ExternalID, err)
			}
			n += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, shared.StorageError("UpsertStudents", err)
	}
	return count, nil
}

// ListStudents returns the roster ordered by external id.
func (r *StudentRepository) ListStudents(ctx context.Context) ([]score.Student, error) {
	q, err := r.conn.querier()
	if err != nil {
		return nil, shared.StorageError("ListStudents", err)
	}
	rows, err := q.Query(ctx, `
		SELECT id, external_id, display_name, credential_hash, created_at, updated_at
		FROM students
		ORDER BY external_id`)
	if err != nil {
		return nil, shared.StorageError("ListStudents", err)
	}
	defer rows.Close()

	out := make([]score.Student, 0)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, shared.StorageError("ListStudents", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("ListStudents", err)
	}
	return out, nil
}

// GetStudentByExternalID returns shared.ErrStudentNotFound when absent.
func (r *StudentRepository) GetStudentByExternalID(ctx context.Context, externalID string) (*score.Student, error) {
	q, err := r.conn.querier()
	if err != nil {
		return nil, shared.StorageError("GetStudentByExternalID", err)
	}
	row := q.QueryRow(ctx, `
		SELECT id, external_id, display_name, credential_hash, created_at, updated_at
		FROM students
		WHERE external_id = $1`, externalID)

	st, err := scanStudent(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, shared.StorageError("GetStudentByExternalID", err)
	}
	return st, nil
}

func scanStudent(row pgx.Row) (*score.Student, error) {
	var st score.Student
	if err := row.Scan(&st.ID, &st.ExternalID, &st.DisplayName, &st.CredentialHash, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store bundles both repositories over one connection.
type Store struct {
	*ScoreRepository
	*StudentRepository
	conn *Connection
}

// NewStore creates a Store.
func NewStore(conn *Connection) *Store {
	return &Store{
		ScoreRepository:   NewScoreRepository(conn),
		StudentRepository: NewStudentRepository(conn),
		conn:              conn,
	}
}

var _ score.Store = (*Store)(nil)

// Ping reports the database as down when Health finds it unhealthy. It
// serves the /health store probe.
func (s *Store) Ping(ctx context.Context) error {
	if st := s.conn.Health(ctx); !st.Healthy {
		return fmt.Errorf("postgres unhealthy: %s", st.Error)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}
