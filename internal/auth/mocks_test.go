package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/archive"
	"github.com/welldanyogia/secure-login/backend/internal/repository"
	"github.com/welldanyogia/secure-login/backend/internal/session"
	"golang.org/x/crypto/bcrypt"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockUserRepo enforces username and email uniqueness like the database
type mockUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*repository.User
	nextID int64
	err    error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*repository.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *repository.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrDuplicateCredential
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetActiveByUsername(_ context.Context, username string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepo) GetUsernameByID(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u.Username, nil
	}
	return "", repository.ErrUserNotFound
}

func (m *mockUserRepo) UsernameOrEmailExists(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type mockAttemptRepo struct {
	mu       sync.Mutex
	attempts []repository.LoginAttempt
	clock    *fakeClock
}

func (m *mockAttemptRepo) Record(_ context.Context, username, ipAddress string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, repository.LoginAttempt{
		Username:    username,
		IPAddress:   ipAddress,
		Success:     success,
		AttemptTime: m.clock.Now(),
	})
	return nil
}

func (m *mockAttemptRepo) CountRecentFailed(_ context.Context, username, ipAddress string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if (a.Username == username || a.IPAddress == ipAddress) && a.AttemptTime.After(since) && !a.Success {
			count++
		}
	}
	return count, nil
}

func (m *mockAttemptRepo) failedFor(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.Username == username && !a.Success {
			count++
		}
	}
	return count
}

func (m *mockAttemptRepo) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*repository.Session
	err      error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*repository.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *repository.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *mockSessionRepo) Invalidate(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.IsActive = false
	return nil
}

func (m *mockSessionRepo) get(sessionID string) (repository.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return repository.Session{}, false
	}
	return *s, true
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
	err     error
}

func (m *mockAuditRepo) Append(_ context.Context, entry *repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(_ context.Context, userID int64, limit int) ([]repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []repository.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAuditRepo) actions(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e.Action)
		}
	}
	return out
}

// failingArchive fails every call
type failingArchive struct{}

func (failingArchive) Append(context.Context, int64, string, string, string, map[string]any) (string, error) {
	return "", archive.ErrStorageUnavailable
}

func (failingArchive) ListForAccount(context.Context, int64, int) ([]archive.Record, error) {
	return nil, archive.ErrStorageUnavailable
}

func (failingArchive) StatsForAccount(context.Context, int64) (*archive.Stats, error) {
	return nil, archive.ErrStorageUnavailable
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

type testEnv struct {
	svc      *AuthService
	manager  *SessionManager
	tokens   *TokenService
	store    *session.MemoryStore
	users    *mockUserRepo
	attempts *mockAttemptRepo
	sessions *mockSessionRepo
	audit    *mockAuditRepo
	clock    *fakeClock
}

const testRememberSecret = "test-remember-secret-0123456789ab"

func newTestEnv(arch ActivityArchive) *testEnv {
	clock := newFakeClock()
	env := &testEnv{
		store:    session.NewMemoryStore(),
		users:    newMockUserRepo(),
		attempts: &mockAttemptRepo{clock: clock},
		sessions: newMockSessionRepo(),
		audit:    &mockAuditRepo{},
		clock:    clock,
	}

	env.tokens = NewTokenService(TokenServiceConfig{Secret: testRememberSecret, Issuer: "test"})
	env.tokens.now = clock.Now

	env.manager = NewSessionManager(env.store, env.sessions, env.tokens, time.Hour, nil)
	env.manager.now = clock.Now

	limiter := NewRateLimiter(env.attempts, DefaultRatePolicy())
	limiter.now = clock.Now

	env.svc = NewAuthService(AuthServiceDeps{
		Users:     env.users,
		Attempts:  env.attempts,
		Audit:     env.audit,
		Sessions:  env.manager,
		Limiter:   limiter,
		Passwords: NewPasswordValidatorWithCost(bcrypt.MinCost),
		Archive:   arch,
	})
	env.svc.now = clock.Now
	return env
}

var testClient = ClientInfo{IPAddress: "203.0.113.7", UserAgent: "test-agent/1.0"}

func (e *testEnv) register(username, email, password string) (*RegisterResponse, error) {
	resp, _, err := e.svc.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	}, testClient)
	return resp, err
}

func (e *testEnv) login(username, password string, remember bool) (*LoginResult, error) {
	return e.svc.Login(context.Background(), LoginRequest{
		Username:   username,
		Password:   password,
		RememberMe: remember,
	}, nil, testClient)
}

func isLowerHex(s string) bool {
	return strings.Trim(s, "0123456789abcdef") == ""
}
