package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/usersync/pkg/storage"
)

const usersTable = `
CREATE TABLE IF NOT EXISTS users (
	id                    VARCHAR(64)  PRIMARY KEY,
	username              VARCHAR(255) NOT NULL UNIQUE,
	email                 VARCHAR(255) NOT NULL DEFAULT '',
	display_name          VARCHAR(255) NOT NULL DEFAULT '',
	user_type             VARCHAR(32)  NOT NULL DEFAULT 'REAL_USER',
	phone_number          TEXT NOT NULL DEFAULT '',
	address               TEXT NOT NULL DEFAULT '',
	bio                   TEXT NOT NULL DEFAULT '',
	profile_picture_url   TEXT NOT NULL DEFAULT '',
	date_of_birth         TEXT NOT NULL DEFAULT '',
	gender                TEXT NOT NULL DEFAULT '',
	location              TEXT NOT NULL DEFAULT '',
	character_name        TEXT NOT NULL DEFAULT '',
	anime_manga_source    TEXT NOT NULL DEFAULT '',
	character_description TEXT NOT NULL DEFAULT '',
	avatar_url            TEXT NOT NULL DEFAULT '',
	cover_image_url       TEXT NOT NULL DEFAULT '',
	character_status      TEXT NOT NULL DEFAULT '',
	created_at            %[1]s NOT NULL,
	updated_at            %[1]s NOT NULL,
	is_verified           BOOLEAN NOT NULL DEFAULT FALSE,
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	is_logged_in          BOOLEAN NOT NULL DEFAULT FALSE
)`

var usersIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE INDEX IF NOT EXISTS idx_users_user_type ON users (user_type)`,
}

// Schema returns the DDL statements for driver
func Schema(driver string) []string {
	timestamp := "TIMESTAMPTZ"
	if driver == storage.DriverSQLite {
		// go-sqlite3 only decodes columns declared TIMESTAMP into time.Time
		timestamp = "TIMESTAMP"
	}
	return append([]string{fmt.Sprintf(usersTable, timestamp)}, usersIndexes...)
}

// Migrate creates the users table and its indexes when absent
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	for _, stmt := range Schema(driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
