package store

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"multillm/pkg/domain"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

type GormStoreOptions struct {
	LogLevel     gormlogger.LogLevel
	MaxOpenConns int
	SkipMigrate  bool
}

type GormStoreOption func(*GormStoreOptions)

// WithLogLevel overrides the GORM log level (Warn by default).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// WithMaxOpenConns caps the PostgreSQL connection pool. SQLite always uses one.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// WithoutMigrate skips schema migration on open.
func WithoutMigrate() GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SkipMigrate = true
	}
}

// GormStore implements Store using GORM on PostgreSQL or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB named by dsn and runs migrations.
// postgres:// and postgresql:// URLs (or key=value DSNs) select PostgreSQL;
// sqlite://path, file: URIs and *.db paths select SQLite.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn, MaxOpenConns: 20}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	dialector, err := openDialector(dsn)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLog,
		NowFunc: func() time.Time { return storeTime(time.Now()) },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if db.Dialector.Name() == dialectSQLite {
		// a single connection keeps in-memory databases shared and avoids
		// "database is locked" under concurrent writers
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns / 2)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	if !opts.SkipMigrate {
		if err := Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, errors.New("database URL required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		withTZ, err := ensureTimezoneUTC(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		return postgres.Open(withTZ), nil
	case strings.Contains(dsn, "host="):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(sqliteDSN(strings.TrimPrefix(dsn, "sqlite://"))), nil
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return sqlite.Open(sqliteDSN(dsn)), nil
	default:
		return nil, fmt.Errorf("unrecognized database URL %q", dsn)
	}
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off per
// connection unless asked.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys=") || strings.Contains(path, "_fk=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func ensureTimezoneUTC(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("TimeZone") == "" {
		q.Set("TimeZone", "UTC")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dialect reports the SQL dialect in use ("postgres" or "sqlite").
func (s *GormStore) Dialect() string {
	return s.db.Dialector.Name()
}

// Ping checks database connectivity.
func (s *GormStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

// CreateUser inserts a new, active user.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	model.IsActive = true
	model.LastLogin = nil
	if err := s.db.Create(&model).Error; err != nil {
		return domain.User{}, translateError(err)
	}
	return userFromModel(model), nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id int64) (domain.User, bool, error) {
	return s.findUser("id = ?", id)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.findUser("username = ?", strings.TrimSpace(username))
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.findUser("email = ?", domain.NormalizeEmail(email))
}

func (s *GormStore) findUser(query string, args ...any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SetUserActive flips the is_active flag.
func (s *GormStore) SetUserActive(id int64, active bool) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", id).Update("is_active", active)
	return rowsOrNotFound(res)
}

// UpdatePassword replaces the stored password hash.
func (s *GormStore) UpdatePassword(id int64, passwordHash string) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", id).Update("password", passwordHash)
	return rowsOrNotFound(res)
}

// DeleteUser removes a user; dependent rows go with it via FK cascade.
func (s *GormStore) DeleteUser(id int64) error {
	res := s.db.Delete(&UserModel{}, "id = ?", id)
	return rowsOrNotFound(res)
}

// CreateSession stores a session row. The last_login trigger fires on insert.
func (s *GormStore) CreateSession(sess domain.Session) (domain.Session, error) {
	model := SessionModel{
		UserID:       sess.UserID,
		SessionToken: sess.Token,
		CreatedAt:    storeTime(sess.CreatedAt),
		ExpiresAt:    storeTime(sess.ExpiresAt),
		IsActive:     true,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Session{}, translateError(err)
	}
	return sessionFromModel(model), nil
}

// GetSessionByToken resolves a session row by its token.
func (s *GormStore) GetSessionByToken(token string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.Where("session_token = ?", token).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// ListActiveSessions returns a user's active sessions, newest first.
func (s *GormStore) ListActiveSessions(userID int64) ([]domain.Session, error) {
	var models []SessionModel
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(models))
	for _, m := range models {
		out = append(out, sessionFromModel(m))
	}
	return out, nil
}

// DeactivateSession marks a single session inactive.
func (s *GormStore) DeactivateSession(token string) error {
	res := s.db.Model(&SessionModel{}).Where("session_token = ?", token).Update("is_active", false)
	return rowsOrNotFound(res)
}

// DeactivateUserSessions marks every active session of a user inactive.
func (s *GormStore) DeactivateUserSessions(userID int64) (int64, error) {
	res := s.db.Model(&SessionModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// ExpireSessions deactivates active sessions whose expiry is at or before now.
func (s *GormStore) ExpireSessions(now time.Time) (int64, error) {
	res := s.db.Model(&SessionModel{}).
		Where("is_active = ? AND expires_at <= ?", true, now.UTC()).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

func rowsOrNotFound(res *gorm.DB) error {
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Username:  strings.TrimSpace(u.Username),
		Email:     domain.NormalizeEmail(u.Email),
		Password:  u.PasswordHash,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		IsActive:  u.IsActive,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.Password,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
		IsActive:     m.IsActive,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		ID:        m.ID,
		UserID:    m.UserID,
		Token:     m.SessionToken,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		IsActive:  m.IsActive,
	}
}

// storeTime normalises timestamps to UTC milliseconds, the precision the
// SQLite triggers write with. Zero stays zero so autoCreateTime still applies.
func storeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}
