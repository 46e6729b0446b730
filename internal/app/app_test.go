package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gormlogger "gorm.io/gorm/logger"

	"multillm/internal/config"
	"multillm/internal/ratelimit"
	"multillm/pkg/auth"
	"multillm/pkg/domain"
	"multillm/pkg/queue"
	"multillm/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app   *App
	store *store.GormStore
	clock *testClock
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.NewGormStore(fmt.Sprintf("file:app_%s?mode=memory&cache=shared", name), store.WithLogLevel(gormlogger.Silent))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tokens, err := store.NewTokenSigner(testSecret, store.TokenOptions{})
	if err != nil {
		t.Fatalf("token signer: %v", err)
	}
	clock := &testClock{now: time.Now().UTC()}
	cfg := Config{
		Store:    db,
		Tokens:   tokens,
		Sessions: store.NewMemorySessionCache(),
		Now:      clock.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return testEnv{app: a, store: db, clock: clock}
}

func mustRegister(t *testing.T, a *App, username string) domain.User {
	t.Helper()
	u, err := a.RegisterUser(username, username+"@example.com", "harvest2024")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

func mustLogin(t *testing.T, a *App, username string) LoginResult {
	t.Helper()
	res, err := a.Login(context.Background(), username, "harvest2024")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return res
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	a := env.app

	u := mustRegister(t, a, "kavya")
	if !u.IsActive || u.LastLogin != nil {
		t.Fatalf("fresh user should be active without last login: %+v", u)
	}
	if u.PasswordHash == "harvest2024" || !auth.CheckPassword("harvest2024", u.PasswordHash) {
		t.Fatalf("password must be stored as bcrypt hash")
	}
	if _, err := a.RegisterUser("kavya", "other@example.com", "harvest2024"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate username to fail, got %v", err)
	}
	if _, err := a.RegisterUser("kavya2", "KAVYA@example.com", "harvest2024"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate email to fail, got %v", err)
	}

	res := mustLogin(t, a, "kavya")
	if res.Token == "" || res.Session.UserID != u.ID || !res.Session.IsActive {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if res.User.LastLogin == nil {
		t.Fatalf("expected last_login to be set by session insert")
	}
	got, err := a.ResolveSession(res.Token)
	if err != nil || got.ID != u.ID {
		t.Fatalf("resolve session: %+v err=%v", got, err)
	}

	if _, err := a.Login(context.Background(), "kavya@example.com", "harvest2024"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
	if _, err := a.Login(context.Background(), "kavya", "wrong-pass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password to fail, got %v", err)
	}
	if _, err := a.Login(context.Background(), "nobody", "harvest2024"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected unknown user to fail, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	a := newTestEnv(t).app
	if _, err := a.RegisterUser("", "a@example.com", "harvest2024"); !errors.Is(err, ErrRegistrationFieldsRequired) {
		t.Fatalf("expected missing username to fail, got %v", err)
	}
	if _, err := a.RegisterUser("a b", "a@example.com", "harvest2024"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username to fail, got %v", err)
	}
	if _, err := a.RegisterUser("valid", "not-an-email", "harvest2024"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email to fail, got %v", err)
	}
	if _, err := a.RegisterUser("valid", "v@example.com", "short1"); !errors.Is(err, auth.ErrPasswordTooShort) {
		t.Fatalf("expected weak password to fail, got %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	a := newTestEnv(t, func(c *Config) { c.LoginLimiter = limiter }).app
	mustRegister(t, a, "arun")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Login(ctx, "arun", "bad-guess1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	if _, err := a.Login(ctx, "arun", "harvest2024"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected limiter to block, got %v", err)
	}
}

func TestResolveSessionRejectsGarbageAndExpired(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Sessions = nil
		c.SessionTTL = time.Hour
	})
	a := env.app
	mustRegister(t, a, "meena")
	res := mustLogin(t, a, "meena")

	if _, err := a.ResolveSession("garbage"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected garbage token to fail, got %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := a.ResolveSession(res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired session to fail, got %v", err)
	}
	n, err := a.SweepSessions()
	if err != nil || n != 1 {
		t.Fatalf("sweep sessions: n=%d err=%v", n, err)
	}
	sess, found, err := env.store.GetSessionByToken(res.Token)
	if err != nil || !found || sess.IsActive {
		t.Fatalf("expected swept session inactive: %+v found=%v err=%v", sess, found, err)
	}
}

func TestLogoutWithRedisSessionCache(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	cache := store.NewRedisSessionCache(redisSrv.Addr(), "")
	t.Cleanup(func() { _ = cache.Close() })
	a := newTestEnv(t, func(c *Config) { c.Sessions = cache }).app
	mustRegister(t, a, "ravi")
	res := mustLogin(t, a, "ravi")

	if len(redisSrv.Keys()) != 1 {
		t.Fatalf("expected login to populate the cache, keys=%v", redisSrv.Keys())
	}
	if _, err := a.ResolveSession(res.Token); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := a.Logout(res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(redisSrv.Keys()) != 0 {
		t.Fatalf("expected logout to evict the cache, keys=%v", redisSrv.Keys())
	}
	if _, err := a.ResolveSession(res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected logged out session to fail, got %v", err)
	}
	if err := a.Logout("unknown-token"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected unknown token logout to fail, got %v", err)
	}
}

func TestDisableUserEndsSessionsAndBlocksLogin(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "selvi")
	res := mustLogin(t, a, "selvi")

	if err := a.SetUserActive(u.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := a.ResolveSession(res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected disabled user's session to fail, got %v", err)
	}
	if _, err := a.Login(context.Background(), "selvi", "harvest2024"); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected disabled login to fail, got %v", err)
	}
	if err := a.SetUserActive(u.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	mustLogin(t, a, "selvi")
	if err := a.SetUserActive(999, false); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected unknown user to fail, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "gopi")
	first := mustLogin(t, a, "gopi")
	second := mustLogin(t, a, "gopi")

	if err := a.ChangePassword(u.ID, "wrong-pass1", "newharvest99"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong current password to fail, got %v", err)
	}
	if err := a.ChangePassword(u.ID, "harvest2024", "newharvest99"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	for _, tok := range []string{first.Token, second.Token} {
		if _, err := a.ResolveSession(tok); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected old sessions revoked, got %v", err)
		}
	}
	if _, err := a.Login(context.Background(), "gopi", "newharvest99"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestStartConversationAndPostMessages(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "divya")
	other := mustRegister(t, a, "mani")

	if _, _, err := a.StartConversation(u.ID, "astrology", "Jayasimma/gennai", "hi"); !errors.Is(err, ErrUnknownDomain) {
		t.Fatalf("expected unknown domain to fail, got %v", err)
	}
	if _, _, err := a.StartConversation(u.ID, "coding", "Jayasimma/gennai", "hi"); !errors.Is(err, ErrModelNotAllowed) {
		t.Fatalf("expected model outside domain to fail, got %v", err)
	}
	if _, _, err := a.StartConversation(u.ID, "coding", "Jayasimma/codemium_ai", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected empty message to fail, got %v", err)
	}

	long := strings.Repeat("நெல்", 20)
	conv, first, err := a.StartConversation(u.ID, "agriculture", "Jayasimma/gennai", long)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	wantTitle := string([]rune(long)[:50]) + "..."
	if conv.Title != wantTitle {
		t.Fatalf("title = %q, want %q", conv.Title, wantTitle)
	}
	if first.Role != domain.RoleUser || first.InputType != domain.InputText || first.Content != long {
		t.Fatalf("unexpected first message: %+v", first)
	}

	short, _, err := a.StartConversation(u.ID, "coding", "Jayasimma/codemium_ai", "Explain Go channels")
	if err != nil {
		t.Fatalf("start short conversation: %v", err)
	}
	if short.Title != "Explain Go channels" {
		t.Fatalf("short title should be kept verbatim, got %q", short.Title)
	}

	if _, err := a.PostMessage(u.ID, conv.ID, domain.RoleAssistant, "Use crop rotation.", "", ""); err != nil {
		t.Fatalf("post assistant reply: %v", err)
	}
	if _, err := a.PostMessage(u.ID, conv.ID, "robot", "x", "", ""); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role to fail, got %v", err)
	}
	if _, err := a.PostMessage(u.ID, conv.ID, domain.RoleUser, "x", "video", ""); !errors.Is(err, ErrInvalidInputType) {
		t.Fatalf("expected invalid input type to fail, got %v", err)
	}
	if _, err := a.PostMessage(other.ID, conv.ID, domain.RoleUser, "hijack", "", ""); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected foreign conversation to fail, got %v", err)
	}
	if _, _, err := a.Conversation(other.ID, conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected foreign read to fail, got %v", err)
	}

	got, msgs, err := a.Conversation(u.ID, conv.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if got.ID != conv.ID || len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	history, err := a.History(u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two conversations, got %d", len(history))
	}
	counts := map[int64]int64{}
	for _, h := range history {
		counts[h.ID] = h.MessageCount
	}
	if counts[conv.ID] != 2 || counts[short.ID] != 1 {
		t.Fatalf("unexpected message counts: %v", counts)
	}
	if others, _ := a.History(other.ID); len(others) != 0 {
		t.Fatalf("history must be per user, got %d", len(others))
	}

	if err := a.RenameConversation(u.ID, short.ID, "Channels"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := a.RenameConversation(other.ID, short.ID, "Mine now"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected foreign rename to fail, got %v", err)
	}
}

func TestRegisterUpload(t *testing.T) {
	fixed := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	env := newTestEnv(t, func(c *Config) {
		c.Now = func() time.Time { return fixed }
		c.UploadDir = "uploads"
	})
	a := env.app
	u := mustRegister(t, a, "priya")
	other := mustRegister(t, a, "kumar")
	conv, _, err := a.StartConversation(u.ID, "education", "Jayasimma/Buddyllama", "Help with algebra")
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	file, err := a.RegisterUpload(u.ID, &conv.ID, "../../Class Notes.PDF", 2048)
	if err != nil {
		t.Fatalf("register upload: %v", err)
	}
	wantPath := filepath.Join("uploads", fmt.Sprintf("%d_20240305_140709_Class_Notes.PDF", u.ID))
	if file.FilePath != wantPath {
		t.Fatalf("file path = %q, want %q", file.FilePath, wantPath)
	}
	if file.FileType != "pdf" || file.Filename != "../../Class Notes.PDF" || file.FileSize != 2048 {
		t.Fatalf("unexpected upload row: %+v", file)
	}
	if file.ConversationID == nil || *file.ConversationID != conv.ID {
		t.Fatalf("expected upload attached to conversation: %+v", file)
	}

	if _, err := a.RegisterUpload(u.ID, nil, "setup.exe", 10); !errors.Is(err, ErrFileTypeNotAllowed) {
		t.Fatalf("expected exe to be rejected, got %v", err)
	}
	if _, err := a.RegisterUpload(u.ID, nil, "README", 10); !errors.Is(err, ErrFileTypeNotAllowed) {
		t.Fatalf("expected missing extension to be rejected, got %v", err)
	}
	if _, err := a.RegisterUpload(u.ID, nil, "big.csv", 16*1024*1024+1); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected oversized file to be rejected, got %v", err)
	}
	if _, err := a.RegisterUpload(u.ID, nil, "exact.csv", 16*1024*1024); err != nil {
		t.Fatalf("file at the size cap should pass: %v", err)
	}
	if _, err := a.RegisterUpload(other.ID, &conv.ID, "notes.txt", 10); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected foreign conversation attach to fail, got %v", err)
	}

	if err := a.DeleteConversation(u.ID, conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	files, err := a.Uploads(u.ID)
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected uploads to survive conversation delete, got %d", len(files))
	}
	for _, f := range files {
		if f.ConversationID != nil {
			t.Fatalf("expected conversation link cleared: %+v", f)
		}
	}
	if err := a.DeleteConversation(u.ID, conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "lakshmi")
	other := mustRegister(t, a, "siva")
	conv, _, err := a.StartConversation(u.ID, "healthcare", "Jayasimma/bharatbuddy", "Is turmeric healthy?")
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	reply, err := a.PostMessage(u.ID, conv.ID, domain.RoleAssistant, "In moderation, yes.", domain.InputText, "")
	if err != nil {
		t.Fatalf("post reply: %v", err)
	}

	for _, bad := range []int{0, 6} {
		if _, err := a.SubmitFeedback(u.ID, reply.ID, bad, ""); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %d: expected ErrInvalidRating, got %v", bad, err)
		}
	}
	if _, err := a.SubmitFeedback(other.ID, reply.ID, 5, "nice"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected foreign message to fail, got %v", err)
	}
	if _, err := a.SubmitFeedback(u.ID, 9999, 5, ""); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected missing message to fail, got %v", err)
	}
	fb, err := a.SubmitFeedback(u.ID, reply.ID, 4, "  helpful  ")
	if err != nil {
		t.Fatalf("submit feedback: %v", err)
	}
	if fb.ConversationID != conv.ID || fb.Rating != 4 || fb.Comment != "helpful" {
		t.Fatalf("unexpected feedback: %+v", fb)
	}
}

func TestPreferences(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "nila")

	prefs, err := a.Preferences(u.ID)
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.Theme != domain.DefaultTheme || prefs.Language != domain.DefaultLanguage || prefs.ID != 0 {
		t.Fatalf("expected unsaved defaults, got %+v", prefs)
	}

	dark, coding, model := "Dark", "coding", "Jayasimma/codemium_ai"
	saved, err := a.UpdatePreferences(u.ID, PreferencesUpdate{Theme: &dark, DefaultDomain: &coding, DefaultModel: &model})
	if err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	if saved.ID == 0 || saved.Theme != "dark" || saved.DefaultDomain != "coding" || saved.DefaultModel != model {
		t.Fatalf("unexpected saved preferences: %+v", saved)
	}

	tamil := "ta"
	again, err := a.UpdatePreferences(u.ID, PreferencesUpdate{Language: &tamil})
	if err != nil {
		t.Fatalf("update language: %v", err)
	}
	if again.ID != saved.ID || again.Theme != "dark" || again.Language != "ta" {
		t.Fatalf("expected merge into the same row, got %+v", again)
	}

	wrongModel := "Jayasimma/gennai"
	if _, err := a.UpdatePreferences(u.ID, PreferencesUpdate{DefaultModel: &wrongModel}); !errors.Is(err, ErrModelNotAllowed) {
		t.Fatalf("expected model outside default domain to fail, got %v", err)
	}
	neon := "neon"
	if _, err := a.UpdatePreferences(u.ID, PreferencesUpdate{Theme: &neon}); err == nil {
		t.Fatalf("expected unsupported theme to fail")
	}
}

func TestSubmitContact(t *testing.T) {
	a := newTestEnv(t).app
	if _, err := a.SubmitContact("Asha", "asha@example.com", "", "Hello"); !errors.Is(err, ErrContactFieldsRequired) {
		t.Fatalf("expected missing subject to fail, got %v", err)
	}
	if _, err := a.SubmitContact("Asha", "asha-at-example", "Hi", "Hello"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email to fail, got %v", err)
	}
	sub, err := a.SubmitContact(" Asha ", "Asha@Example.com", "Partnership", "Hello team")
	if err != nil {
		t.Fatalf("submit contact: %v", err)
	}
	if sub.ID == 0 || sub.Name != "Asha" || sub.Email != "asha@example.com" || sub.SubmittedAt.IsZero() {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}

func TestRecordUsageInline(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "vel")
	ctx := context.Background()
	for _, d := range []time.Duration{time.Second, 3 * time.Second} {
		if err := a.RecordUsage(ctx, domain.UsageEvent{UserID: u.ID, ModelName: "Jayasimma/Puzhavan", Domain: "nature_medicine", Tokens: 50, ResponseTime: d}); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	if err := a.RecordUsage(ctx, domain.UsageEvent{UserID: u.ID, ModelName: "m", Domain: "coding", Tokens: -1}); !errors.Is(err, ErrInvalidUsageEvent) {
		t.Fatalf("expected negative tokens to fail, got %v", err)
	}
	if _, err := a.DrainUsage(ctx); !errors.Is(err, ErrQueueNotConfigured) {
		t.Fatalf("expected drain without queue to fail, got %v", err)
	}
	stats, err := a.UsageStats(u.ID)
	if err != nil {
		t.Fatalf("usage stats: %v", err)
	}
	if len(stats) != 1 || stats[0].RequestCount != 2 || stats[0].TotalTokens != 100 || stats[0].AvgResponseTime != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecordUsageThroughQueue(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q, err := queue.NewUsageQueue(queue.Config{Addr: redisSrv.Addr(), Stream: "test:usage", RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	a := newTestEnv(t, func(c *Config) { c.Usage = q }).app
	u := mustRegister(t, a, "tamizh")
	gone := mustRegister(t, a, "gone")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := a.RecordUsage(ctx, domain.UsageEvent{UserID: u.ID, ModelName: "Jayasimma/Buddyllama", Domain: "tamil", Tokens: 10, ResponseTime: time.Second}); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	if err := a.RecordUsage(ctx, domain.UsageEvent{UserID: gone.ID, ModelName: "Jayasimma/Buddyllama", Domain: "tamil", Tokens: 10}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if stats, _ := a.UsageStats(u.ID); len(stats) != 0 {
		t.Fatalf("queued usage must not be applied before drain: %+v", stats)
	}
	if err := a.DeleteAccount(gone.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	applied, err := a.DrainUsage(ctx)
	if err != nil {
		t.Fatalf("drain usage: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}
	stats, err := a.UsageStats(u.ID)
	if err != nil || len(stats) != 1 || stats[0].RequestCount != 2 {
		t.Fatalf("unexpected stats after drain: %+v err=%v", stats, err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("expected drained stream, got %d entries", n)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	env := newTestEnv(t)
	a := env.app
	u := mustRegister(t, a, "bala")
	res := mustLogin(t, a, "bala")
	conv, _, err := a.StartConversation(u.ID, "coding", "Jayasimma/creaton-ai", "Write a parser")
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if _, err := a.RegisterUpload(u.ID, &conv.ID, "main.py", 100); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := a.DeleteAccount(u.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := a.ResolveSession(res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected deleted account's session to fail, got %v", err)
	}
	if _, found, _ := env.store.GetConversation(conv.ID); found {
		t.Fatalf("expected conversation removed with the account")
	}
	if files, _ := env.store.ListUploadedFiles(u.ID); len(files) != 0 {
		t.Fatalf("expected uploads removed with the account, got %d", len(files))
	}
	if err := a.DeleteAccount(u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}
}

func TestOpenFromFileConfig(t *testing.T) {
	cfg := config.FileConfig{
		DatabaseURL:             "sqlite://" + filepath.Join(t.TempDir(), "chat.db"),
		SessionSecret:           testSecret,
		SessionTTL:              "1h",
		LoginRateLimitPerMinute: 5,
		MaxUploadBytes:          1024,
	}
	a, res, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })
	if res.Queue != nil {
		t.Fatalf("queue must stay disabled without redis")
	}
	mustRegister(t, a, "open")
	login := mustLogin(t, a, "open")
	if got := login.Session.ExpiresAt.Sub(login.Session.CreatedAt); got != time.Hour {
		t.Fatalf("session lifetime = %v, want 1h", got)
	}
	if _, err := a.RegisterUpload(login.User.ID, nil, "a.txt", 2048); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected configured upload cap, got %v", err)
	}

	redisSrv := miniredis.RunT(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "chat2.db")
	cfg.RedisAddr = redisSrv.Addr()
	a2, res2, err := Open(cfg)
	if err != nil {
		t.Fatalf("open with redis: %v", err)
	}
	t.Cleanup(func() { _ = res2.Close() })
	if res2.Queue == nil || res2.Cache == nil {
		t.Fatalf("expected redis-backed queue and cache")
	}
	mustRegister(t, a2, "redis")
	mustLogin(t, a2, "redis")
}

func TestStartConversationForMissingUserLeavesNothing(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "vetri")
	if err := a.DeleteAccount(u.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, _, err := a.StartConversation(u.ID, "coding", "Jayasimma/codemium_ai", "hello"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	items, err := a.History(u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no conversations, got %+v", items)
	}
}

func TestDeleteUpload(t *testing.T) {
	a := newTestEnv(t).app
	u := mustRegister(t, a, "nila")
	other := mustRegister(t, a, "oviya")
	f, err := a.RegisterUpload(u.ID, nil, "crop yield.csv", 100)
	if err != nil {
		t.Fatalf("register upload: %v", err)
	}
	if err := a.DeleteUpload(other.ID, f.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected foreign delete to fail, got %v", err)
	}
	if err := a.DeleteUpload(u.ID, f.ID); err != nil {
		t.Fatalf("delete upload: %v", err)
	}
	files, err := a.Uploads(u.ID)
	if err != nil || len(files) != 0 {
		t.Fatalf("expected no uploads, got %+v err=%v", files, err)
	}
	if err := a.DeleteUpload(u.ID, f.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}
}

func TestConsumeUsageAppliesQueuedEvents(t *testing.T) {
	if err := newTestEnv(t).app.ConsumeUsage(context.Background(), 1); !errors.Is(err, ErrQueueNotConfigured) {
		t.Fatalf("expected ErrQueueNotConfigured, got %v", err)
	}

	redisSrv := miniredis.RunT(t)
	q, err := queue.NewUsageQueue(queue.Config{Addr: redisSrv.Addr(), Stream: "test:consume", Block: 50 * time.Millisecond, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	a := newTestEnv(t, func(c *Config) { c.Usage = q }).app
	u := mustRegister(t, a, "ilakkiya")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.ConsumeUsage(ctx, 2); err != nil {
		t.Fatalf("consume usage: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := a.RecordUsage(ctx, domain.UsageEvent{UserID: u.ID, ModelName: "Jayasimma/creaton-ai", Domain: "education", Tokens: 5}); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		stats, err := a.UsageStats(u.ID)
		if err != nil {
			t.Fatalf("usage stats: %v", err)
		}
		if len(stats) == 1 && stats[0].RequestCount == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumers did not apply events in time: %+v", stats)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
