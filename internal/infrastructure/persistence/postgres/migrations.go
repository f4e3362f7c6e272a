package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_test_scores", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY,
    external_id VARCHAR(64) NOT NULL UNIQUE,
    display_name VARCHAR(200) NOT NULL DEFAULT '',
    credential_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration001Down = `
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE TEST SCORES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS test_scores (
    id UUID PRIMARY KEY,
    student_external_id VARCHAR(64) NOT NULL,
    test_name VARCHAR(200) NOT NULL,
    test_date DATE NOT NULL,
    section_a DOUBLE PRECISION NOT NULL DEFAULT 0,
    section_b DOUBLE PRECISION NOT NULL DEFAULT 0,
    section_c DOUBLE PRECISION NOT NULL DEFAULT 0,
    section_d DOUBLE PRECISION NOT NULL DEFAULT 0,
    section_ad DOUBLE PRECISION NOT NULL DEFAULT 0,
    section_bc DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_test_scores_key UNIQUE (student_external_id, test_name, test_date),
    CONSTRAINT non_negative_scores CHECK (
        section_a >= 0 AND section_b >= 0 AND section_c >= 0 AND section_d >= 0 AND
        section_ad >= 0 AND section_bc >= 0 AND total_score >= 0
    )
);

CREATE INDEX IF NOT EXISTS idx_test_scores_test ON test_scores(test_name, test_date);
CREATE INDEX IF NOT EXISTS idx_test_scores_student ON test_scores(student_external_id);
`

const migration002Down = `
DROP TABLE IF EXISTS test_scores;
`
