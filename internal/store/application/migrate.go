package applicationstore

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	constraintTCNo          = "applications_tc_no_key"
	constraintEmail         = "applications_email_key"
	constraintApplicationID = "applications_application_id_key"
)

var migrations = []struct {
	name  string
	query string
}{
	{"create applications", `
		CREATE TABLE IF NOT EXISTS applications (
			id               UUID PRIMARY KEY,
			application_id   TEXT NOT NULL,
			tc_no            CHAR(11) NOT NULL,
			full_name        TEXT NOT NULL,
			branch           TEXT,
			email            TEXT NOT NULL,
			phone            TEXT,
			weekly_hours     DOUBLE PRECISION,
			certificate_date TEXT,
			norm_status      TEXT,
			preferences      JSONB,
			special_request  TEXT,
			teacher_date     TEXT,
			submission_date  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			academic_year    TEXT NOT NULL,
			semester         TEXT NOT NULL,
			status           TEXT NOT NULL,
			CONSTRAINT ` + constraintTCNo + ` UNIQUE (tc_no),
			CONSTRAINT ` + constraintEmail + ` UNIQUE (email),
			CONSTRAINT ` + constraintApplicationID + ` UNIQUE (application_id)
		)`},
	{"create application_sequences", `
		CREATE TABLE IF NOT EXISTS application_sequences (
			year       INTEGER PRIMARY KEY,
			last_value BIGINT NOT NULL
		)`},
	{"create audit_log", `
		CREATE TABLE IF NOT EXISTS audit_log (
			id            BIGSERIAL PRIMARY KEY,
			event_type    TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id   TEXT NOT NULL,
			details       JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
}

// Migrate creates the tables the store needs if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.query); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.name, err)
		}
	}
	return nil
}
