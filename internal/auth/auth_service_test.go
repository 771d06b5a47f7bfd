package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/archive"
	"github.com/welldanyogia/secure-login/backend/internal/repository"
	"github.com/welldanyogia/secure-login/backend/internal/session"
	"pgregory.net/rapid"
)

func drawCredentials(t *rapid.T) (string, string, string) {
	username := rapid.StringMatching(`[a-zA-Z0-9_]{3,20}`).Draw(t, "username")
	email := rapid.StringMatching(`[a-z]{3,10}@[a-z]{3,8}\.com`).Draw(t, "email")
	password := rapid.StringMatching(`[a-zA-Z0-9!@#$%]{8,24}`).Draw(t, "password")
	return username, email, password
}

// A fresh valid account can log in with the credentials it registered with
func TestProperty_RegisterThenLogin(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(nil)
		username, email, password := drawCredentials(t)

		resp, err := env.register(username, email, password)
		if err != nil {
			t.Fatalf("register failed: %v", err)
		}
		if resp.UserID == 0 || resp.Username != username {
			t.Fatalf("unexpected register response %+v", resp)
		}

		result, err := env.login(username, password, false)
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if !result.Session.Authenticated || result.Session.UserID != resp.UserID {
			t.Fatalf("unexpected session %+v", result.Session)
		}
		if result.RememberToken != nil {
			t.Fatal("remember token issued without remember_me")
		}
		if _, ok := env.sessions.get(result.Session.Token); !ok {
			t.Fatal("login did not persist a session row")
		}
	})
}

// A wrong password fails and adds one failed attempt for the username
func TestProperty_WrongPasswordIsRecorded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(nil)
		username, email, password := drawCredentials(t)
		if _, err := env.register(username, email, password); err != nil {
			t.Fatalf("register failed: %v", err)
		}

		before := env.attempts.failedFor(username)
		_, err := env.login(username, password+"x", false)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if after := env.attempts.failedFor(username); after != before+1 {
			t.Fatalf("expected failed attempts to go from %d to %d, got %d", before, before+1, after)
		}
		if env.sessions.count() != 0 {
			t.Fatal("failed login created a session")
		}
	})
}

func TestLogin_RateLimitedAfterFiveFailures(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.register("mallory", "mallory@example.com", "correct-horse"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < MaxFailedAttempts; i++ {
		if _, err := env.login("mallory", "wrong-password", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
		env.clock.Advance(time.Minute)
	}

	recorded := env.attempts.total()
	if _, err := env.login("mallory", "correct-horse", false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited with the correct password, got %v", err)
	}
	if env.attempts.total() != recorded {
		t.Error("a rate limited call must not record an attempt")
	}

	env.clock.Advance(FailedAttemptWindow)
	if _, err := env.login("mallory", "correct-horse", false); err != nil {
		t.Fatalf("expected login to succeed once the window passed, got %v", err)
	}
}

func TestLogin_RateLimitedByAddress(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.register("victim", "victim@example.com", "correct-horse"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < MaxFailedAttempts; i++ {
		_, _ = env.login("nobody_"+string(rune('a'+i)), "whatever-pass", false)
	}

	if _, err := env.login("victim", "correct-horse", false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected failures from the same address to block, got %v", err)
	}
}

func TestLogin_UnknownUserIsInvalidCredentials(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.login("ghost", "some-password", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if env.attempts.failedFor("ghost") != 1 {
		t.Error("expected the failed attempt to be recorded")
	}
}

func TestLogin_EmptyFieldsAreInvalidInput(t *testing.T) {
	env := newTestEnv(nil)
	for _, req := range []LoginRequest{
		{Username: "", Password: "x"},
		{Username: "alice", Password: ""},
		{Username: "   ", Password: "password1"},
	} {
		if _, err := env.svc.Login(context.Background(), req, nil, testClient); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%+v: expected ErrInvalidInput, got %v", req, err)
		}
	}
	if env.attempts.total() != 0 {
		t.Error("invalid input must not be recorded as an attempt")
	}
}

func TestLogin_StorageFailure(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.register("alice", "alice@example.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	env.sessions.err = errStoreDown
	if _, err := env.login("alice", "password1", false); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	env.sessions.err = nil
	env.users.err = errStoreDown
	if _, err := env.login("alice", "password1", false); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestIsAuthenticated_TimeoutAndSlidingRefresh(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.register("alice", "alice@example.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result, err := env.login("alice", "password1", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	token := result.Session.Token
	ctx := context.Background()

	if _, ok := env.svc.IsAuthenticated(ctx, token); !ok {
		t.Fatal("expected authenticated immediately after login")
	}

	// each check just before expiry pushes the deadline out
	for i := 0; i < 3; i++ {
		env.clock.Advance(59 * time.Minute)
		if _, ok := env.svc.IsAuthenticated(ctx, token); !ok {
			t.Fatalf("check %d: expected sliding refresh to keep the session alive", i+1)
		}
	}

	env.clock.Advance(61 * time.Minute)
	if _, ok := env.svc.IsAuthenticated(ctx, token); ok {
		t.Fatal("expected session to time out")
	}

	row, _ := env.sessions.get(token)
	if row.IsActive {
		t.Error("timed out session row should be inactive")
	}
	if _, err := env.store.Get(ctx, token); !errors.Is(err, session.ErrNotFound) {
		t.Error("timed out context should be deleted")
	}
}

func TestCheck_ReportsExpiry(t *testing.T) {
	env := newTestEnv(nil)
	_, _ = env.register("alice", "alice@example.com", "password1")
	result, _ := env.login("alice", "password1", false)

	env.clock.Advance(2 * time.Hour)
	if _, err := env.manager.Check(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := env.manager.Check(context.Background(), result.Session.Token); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestLogout_ThenNotAuthenticated(t *testing.T) {
	env := newTestEnv(nil)
	resp, _ := env.register("alice", "alice@example.com", "password1")
	result, err := env.login("alice", "password1", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	ctx := context.Background()

	env.clock.Advance(90 * time.Second)
	if err := env.svc.Logout(ctx, result.Session.Token, testClient); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, ok := env.svc.IsAuthenticated(ctx, result.Session.Token); ok {
		t.Fatal("expected logged out session to be unauthenticated")
	}

	row, _ := env.sessions.get(result.Session.Token)
	if row.IsActive {
		t.Error("logged out session row should be inactive")
	}

	actions := env.audit.actions(resp.UserID)
	want := []string{repository.ActionRegistration, repository.ActionLogin, repository.ActionLogout}
	if len(actions) != len(want) {
		t.Fatalf("expected audit actions %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("expected audit actions %v, got %v", want, actions)
		}
	}

	if err := env.svc.Logout(ctx, result.Session.Token, testClient); err != nil {
		t.Errorf("second logout should be a no-op, got %v", err)
	}
	if err := env.svc.Logout(ctx, "", testClient); err != nil {
		t.Errorf("logout without a session should be a no-op, got %v", err)
	}
}

func TestLogin_RotatesAnonymousSession(t *testing.T) {
	env := newTestEnv(nil)
	_, _ = env.register("alice", "alice@example.com", "password1")
	ctx := context.Background()

	anon, err := env.manager.Begin(ctx, testClient.IPAddress, testClient.UserAgent)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if len(anon.CSRFToken) != 2*CSRFTokenBytes || !isLowerHex(anon.CSRFToken) {
		t.Errorf("unexpected csrf token %q", anon.CSRFToken)
	}

	result, err := env.svc.Login(ctx, LoginRequest{Username: "alice", Password: "password1"}, anon, testClient)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Session.Token == anon.Token {
		t.Error("login must issue a new session token")
	}
	if result.Session.CSRFToken == anon.CSRFToken {
		t.Error("login must issue a new csrf token")
	}
	if _, err := env.store.Get(ctx, anon.Token); !errors.Is(err, session.ErrNotFound) {
		t.Error("anonymous context should be discarded on login")
	}
}

func TestLogin_RememberMe(t *testing.T) {
	env := newTestEnv(nil)
	resp, _ := env.register("alice", "alice@example.com", "password1")

	result, err := env.login("alice", "password1", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.RememberToken == nil {
		t.Fatal("expected a remember token")
	}
	if len(result.RememberToken.ID) != 2*RememberTokenBytes || !isLowerHex(result.RememberToken.ID) {
		t.Errorf("remember token id should be 64 hex chars, got %q", result.RememberToken.ID)
	}
	if got := result.RememberToken.ExpiresAt.Sub(env.clock.Now()); got != DefaultRememberTokenExpiry {
		t.Errorf("expected 30 day expiry, got %v", got)
	}

	claims, err := parseRemember(t, result.RememberToken.Value, testRememberSecret, env.clock.Now())
	if err != nil {
		t.Fatalf("remember token does not verify: %v", err)
	}
	if claims.Subject != strconv.FormatInt(resp.UserID, 10) || claims.ID != result.RememberToken.ID {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestLogin_RememberTokenFailureCreatesNoSession(t *testing.T) {
	env := newTestEnv(nil)
	_, _ = env.register("alice", "alice@example.com", "password1")
	env.tokens.random = failingReader{}

	if _, err := env.login("alice", "password1", true); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if env.sessions.count() != 0 || env.store.Len() != 0 {
		t.Error("no session may exist when the remember token could not be issued")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		req      RegisterRequest
		badField string
	}{
		{"username too short", RegisterRequest{Username: "ab", Email: "a@b.com", Password: "longenough1"}, "username"},
		{"bad email", RegisterRequest{Username: "validuser", Email: "not-an-email", Password: "longenough1"}, "email"},
		{"short password", RegisterRequest{Username: "validuser", Email: "a@b.com", Password: "short"}, "password"},
		{"username charset", RegisterRequest{Username: "bad-user!", Email: "a@b.com", Password: "longenough1"}, "username"},
		{"markup in username", RegisterRequest{Username: "<b>bob</b>x", Email: "a@b.com", Password: "longenough1"}, ""},
		{"confirm mismatch", RegisterRequest{Username: "validuser", Email: "a@b.com", Password: "longenough1", ConfirmPassword: "longenough2"}, "confirm_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(nil)
			resp, fieldErrs, err := env.svc.Register(context.Background(), tt.req, testClient)
			if tt.badField == "" {
				// sanitizing strips the markup, leaving a valid name
				if err != nil {
					t.Fatalf("expected sanitized username to register, got %v", err)
				}
				if resp.Username != "bobx" {
					t.Errorf("expected sanitized username bobx, got %q", resp.Username)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			found := false
			for _, fe := range fieldErrs {
				if fe.Field == tt.badField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a field error for %s, got %+v", tt.badField, fieldErrs)
			}
			if env.users.count() != 0 {
				t.Error("invalid input must not create an account")
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.register("alice", "alice@example.com", "password1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := env.register("alice", "other@example.com", "password1"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate username: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := env.register("alice2", "alice@example.com", "password1"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate email: expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	env := newTestEnv(nil)
	const workers = 12

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "racer" + string(rune('a'+i)) + "@example.com"
			_, err := env.register("racer", email, "password1")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyExists):
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
}

func TestRegister_StorageFailure(t *testing.T) {
	env := newTestEnv(nil)
	env.users.err = errStoreDown
	if _, err := env.register("alice", "alice@example.com", "password1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestBestEffortWritesNeverFailPrimaryOperations(t *testing.T) {
	env := newTestEnv(failingArchive{})
	env.audit.err = errStoreDown

	resp, err := env.register("alice", "alice@example.com", "password1")
	if err != nil {
		t.Fatalf("register should succeed despite audit failures: %v", err)
	}
	result, err := env.login("alice", "password1", false)
	if err != nil {
		t.Fatalf("login should succeed despite audit failures: %v", err)
	}
	if err := env.svc.Logout(context.Background(), result.Session.Token, testClient); err != nil {
		t.Fatalf("logout should succeed despite audit failures: %v", err)
	}

	if got := env.svc.GetRecentActivity(context.Background(), resp.UserID, 5); len(got) != 0 {
		t.Errorf("expected empty activity from a failing archive, got %v", got)
	}
	stats := env.svc.GetActivityStats(context.Background(), resp.UserID)
	if stats.TotalActivities != 0 || stats.ActivitiesByType == nil {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
	if _, err := env.svc.GetAuditTrail(context.Background(), resp.UserID, 10); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected audit trail read to fail loudly, got %v", err)
	}
}

func newFileArchive(t *testing.T) *archive.Archive {
	t.Helper()
	tree, err := archive.NewFileTree(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileTree failed: %v", err)
	}
	return archive.New(tree, nil)
}

func TestArchiveRoundTripThroughService(t *testing.T) {
	env := newTestEnv(newFileArchive(t))
	ctx := context.Background()

	alice, _ := env.register("alice", "alice@example.com", "password1")
	bob, _ := env.register("bob", "bob@example.com", "password2")
	if _, err := env.login("alice", "password1", true); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	records := env.svc.GetRecentActivity(ctx, alice.UserID, 0)
	if len(records) != 2 {
		t.Fatalf("expected 2 archived records for alice, got %d", len(records))
	}
	seen := map[string]archive.Record{}
	for _, r := range records {
		if r.UserID != alice.UserID {
			t.Errorf("alice's listing contains a record of account %d", r.UserID)
		}
		seen[r.Action] = r
	}
	if seen[repository.ActionRegistration].Data["registration_method"] != "web_form" {
		t.Errorf("unexpected registration payload %v", seen[repository.ActionRegistration].Data)
	}
	if seen[repository.ActionLogin].Data["remember_me"] != true {
		t.Errorf("unexpected login payload %v", seen[repository.ActionLogin].Data)
	}

	bobRecords := env.svc.GetRecentActivity(ctx, bob.UserID, 0)
	if len(bobRecords) != 1 || bobRecords[0].Username != "bob" {
		t.Errorf("unexpected records for bob: %+v", bobRecords)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(newFileArchive(t))
	ctx := context.Background()

	resp, _ := env.register("alice", "alice@example.com", "password1")
	result, err := env.login("alice", "password1", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	dash, err := env.svc.Dashboard(ctx, result.Session, testClient)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if dash.User.Username != "alice" || dash.User.ID != resp.UserID {
		t.Errorf("unexpected dashboard user %+v", dash.User)
	}
	if len(dash.RecentActivity) == 0 || len(dash.RecentActivity) > DashboardActivityLimit {
		t.Errorf("unexpected recent activity size %d", len(dash.RecentActivity))
	}
	if dash.Stats.ActivitiesByType[repository.ActionDashboardAccess] != 1 {
		t.Errorf("expected the dashboard visit to be archived, got %v", dash.Stats.ActivitiesByType)
	}

	trail, err := env.svc.GetAuditTrail(ctx, resp.UserID, 0)
	if err != nil {
		t.Fatalf("GetAuditTrail failed: %v", err)
	}
	if len(trail) != 3 || trail[0].Action != repository.ActionDashboardAccess {
		t.Errorf("unexpected audit trail %+v", trail)
	}
}

func TestActivityWithoutArchive(t *testing.T) {
	env := newTestEnv(nil)
	if got := env.svc.GetRecentActivity(context.Background(), 1, 5); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	stats := env.svc.GetActivityStats(context.Background(), 1)
	if stats.TotalActivities != 0 || stats.FirstActivity != nil || stats.LastActivity != nil {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}
