package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"multillm/internal/ratelimit"
	"multillm/pkg/auth"
	"multillm/pkg/catalog"
	"multillm/pkg/domain"
	"multillm/pkg/queue"
	"multillm/pkg/store"
)

const (
	defaultSessionTTL     = 24 * time.Hour
	defaultMaxUploadBytes = 16 * 1024 * 1024
	defaultUploadDir      = "uploads"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,80}$`)

// UsageQueue defers usage aggregation to a background consumer.
type UsageQueue interface {
	Publish(ctx context.Context, ev domain.UsageEvent) (string, error)
	Drain(ctx context.Context, handler queue.Handler) (int, error)
	Start(ctx context.Context, concurrency int, handler queue.Handler) error
}

// Config holds runtime dependencies for the application layer.
// Store and Tokens are required; the rest are optional.
type Config struct {
	Store          store.Store
	Tokens         *store.TokenSigner
	Sessions       store.SessionCache
	Catalog        *catalog.Catalog
	LoginLimiter   ratelimit.Limiter
	Usage          UsageQueue
	SessionTTL     time.Duration
	MaxUploadBytes int64
	UploadDir      string
	Now            func() time.Time
}

// App enforces the rules the schema leaves to its callers: ownership,
// credential handling, catalog validation and session lifecycle.
type App struct {
	store          store.Store
	tokens         *store.TokenSigner
	sessions       store.SessionCache
	catalog        *catalog.Catalog
	limiter        ratelimit.Limiter
	usage          UsageQueue
	sessionTTL     time.Duration
	maxUploadBytes int64
	uploadDir      string
	now            func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token signer required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:          cfg.Store,
		tokens:         cfg.Tokens,
		sessions:       cfg.Sessions,
		catalog:        cfg.Catalog,
		limiter:        cfg.LoginLimiter,
		usage:          cfg.Usage,
		sessionTTL:     cfg.SessionTTL,
		maxUploadBytes: cfg.MaxUploadBytes,
		uploadDir:      cfg.UploadDir,
		now:            cfg.Now,
	}, nil
}

// Catalog exposes the domain catalog used for validation.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User    domain.User
	Session domain.Session
	Token   string
}

// RegisterUser creates an active account with a bcrypt password hash.
func (a *App) RegisterUser(username, email, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	email = domain.NormalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return domain.User{}, ErrRegistrationFieldsRequired
	}
	if !usernamePattern.MatchString(username) {
		return domain.User{}, ErrInvalidUsername
	}
	if !validEmail(email) {
		return domain.User{}, ErrInvalidEmail
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	slog.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login checks credentials and opens a session. identifier is a username,
// or an email address when it contains '@'.
func (a *App) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	if a.limiter != nil && !a.limiter.Allow(ctx, "login:"+identifier) {
		return LoginResult{}, ErrTooManyAttempts
	}

	var (
		user  domain.User
		found bool
		err   error
	)
	if strings.Contains(identifier, "@") {
		user, found, err = a.store.GetUserByEmail(domain.NormalizeEmail(identifier))
	} else {
		user, found, err = a.store.GetUserByUsername(identifier)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found || !auth.CheckPassword(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return LoginResult{}, ErrUserDisabled
	}

	now := a.now().UTC()
	expiresAt := now.Add(a.sessionTTL)
	token, err := a.tokens.Issue(user.ID, now, expiresAt)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}
	sess, err := a.store.CreateSession(domain.Session{
		UserID:    user.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	a.cacheSession(token, user.ID, a.sessionTTL)

	// last_login is maintained by the sessions insert trigger.
	if refreshed, ok, err := a.store.GetUserByID(user.ID); err == nil && ok {
		user = refreshed
	}
	slog.Info("user logged in", "user_id", user.ID, "session_id", sess.ID)
	return LoginResult{User: user, Session: sess, Token: token}, nil
}

// ResolveSession returns the active user behind token.
func (a *App) ResolveSession(token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	userID, err := a.tokens.Verify(token)
	if err != nil {
		return domain.User{}, ErrInvalidSession
	}

	cached := false
	if a.sessions != nil {
		id, ok, err := a.sessions.Get(token)
		if err != nil {
			slog.Warn("session cache lookup failed", "err", err)
		} else if ok && id == userID {
			cached = true
		}
	}
	if !cached {
		sess, found, err := a.store.GetSessionByToken(token)
		if err != nil {
			return domain.User{}, fmt.Errorf("lookup session: %w", err)
		}
		now := a.now().UTC()
		if !found || sess.UserID != userID || !sess.Live(now) {
			return domain.User{}, ErrInvalidSession
		}
		a.cacheSession(token, userID, sess.ExpiresAt.Sub(now))
	}

	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found || !user.IsActive {
		a.evictSession(token)
		return domain.User{}, ErrInvalidSession
	}
	return user, nil
}

// Logout deactivates the session behind token.
func (a *App) Logout(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidSession
	}
	a.evictSession(token)
	if err := a.store.DeactivateSession(token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidSession
		}
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// ChangePassword replaces the password after checking the current one and
// ends every open session of the user.
func (a *App) ChangePassword(userID int64, current, next string) error {
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !found || !auth.CheckPassword(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdatePassword(userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return a.revokeUserSessions(userID)
}

// SetUserActive enables or disables an account. Disabling ends its sessions.
func (a *App) SetUserActive(userID int64, active bool) error {
	if err := a.store.SetUserActive(userID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("set user active: %w", err)
	}
	if active {
		return nil
	}
	return a.revokeUserSessions(userID)
}

// DeleteAccount removes the user; the database cascades to every owned row.
func (a *App) DeleteAccount(userID int64) error {
	if err := a.revokeUserSessions(userID); err != nil {
		return err
	}
	if err := a.store.DeleteUser(userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	slog.Info("account deleted", "user_id", userID)
	return nil
}

// SweepSessions deactivates every session that has expired by now.
func (a *App) SweepSessions() (int64, error) {
	n, err := a.store.ExpireSessions(a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return n, nil
}

func (a *App) revokeUserSessions(userID int64) error {
	active, err := a.store.ListActiveSessions(userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range active {
		a.evictSession(sess.Token)
	}
	if _, err := a.store.DeactivateUserSessions(userID); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	return nil
}

func (a *App) cacheSession(token string, userID int64, ttl time.Duration) {
	if a.sessions == nil || ttl <= 0 {
		return
	}
	if err := a.sessions.Put(token, userID, ttl); err != nil {
		slog.Warn("session cache write failed", "user_id", userID, "err", err)
	}
}

func (a *App) evictSession(token string) {
	if a.sessions == nil {
		return
	}
	if err := a.sessions.Delete(token); err != nil {
		slog.Warn("session cache delete failed", "err", err)
	}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}
