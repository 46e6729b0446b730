package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const migrateLockID int64 = 51045104

// Triggers hold the only procedural logic in the schema: a new message
// bumps its conversation's updated_at and a new session bumps its user's
// last_login.
var postgresTriggers = []string{
	`CREATE OR REPLACE FUNCTION touch_conversation_updated_at() RETURNS trigger AS $$
	BEGIN
		UPDATE conversations
			SET updated_at = GREATEST(updated_at, CURRENT_TIMESTAMP, NEW.created_at)
			WHERE id = NEW.conversation_id;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS update_conversation_timestamp ON messages`,
	`CREATE TRIGGER update_conversation_timestamp
		AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION touch_conversation_updated_at()`,
	`CREATE OR REPLACE FUNCTION touch_user_last_login() RETURNS trigger AS $$
	BEGIN
		UPDATE users
			SET last_login = GREATEST(last_login, CURRENT_TIMESTAMP, NEW.created_at)
			WHERE id = NEW.user_id;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS update_user_last_login ON sessions`,
	`CREATE TRIGGER update_user_last_login
		AFTER INSERT ON sessions
		FOR EACH ROW EXECUTE FUNCTION touch_user_last_login()`,
}

// sqliteNow renders the current time in the layout go-sqlite3 writes
// time.Time values with, so trigger output and row timestamps compare as
// text. Both sides carry millisecond precision (see storeTime).
const sqliteNow = `strftime('%Y-%m-%d %H:%M:%f+00:00', 'now')`

// SQLite stores timestamps as text. The triggers never move a timestamp
// backwards and never leave it before the inserted row's created_at.
var sqliteTriggers = []string{
	`DROP TRIGGER IF EXISTS update_conversation_timestamp`,
	`CREATE TRIGGER update_conversation_timestamp
		AFTER INSERT ON messages
		BEGIN
			UPDATE conversations
			SET updated_at = MAX(COALESCE(updated_at, ''), NEW.created_at, ` + sqliteNow + `)
			WHERE id = NEW.conversation_id;
		END`,
	`DROP TRIGGER IF EXISTS update_user_last_login`,
	`CREATE TRIGGER update_user_last_login
		AFTER INSERT ON sessions
		BEGIN
			UPDATE users
			SET last_login = MAX(COALESCE(last_login, ''), NEW.created_at, ` + sqliteNow + `)
			WHERE id = NEW.user_id;
		END`,
}

// Migrate creates or updates every table, index, constraint and trigger.
// It is safe to run repeatedly and from several processes at once on
// PostgreSQL (guarded by an advisory lock).
func Migrate(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case dialectPostgres:
		return withMigrationLock(db, func(tx *gorm.DB) error {
			return migrateWith(tx, postgresTriggers)
		})
	case dialectSQLite:
		return migrateWith(db, sqliteTriggers)
	default:
		return fmt.Errorf("unsupported dialect %q", db.Dialector.Name())
	}
}

func migrateWith(db *gorm.DB, triggers []string) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range triggers {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install triggers: %w", err)
		}
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}
