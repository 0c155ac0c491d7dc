package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

type fakeAuthStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	security map[string]*models.UserSecurity
	attempts []*models.LoginAttempt
	logins   []string
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		users:    make(map[string]*models.User),
		security: make(map[string]*models.UserSecurity),
	}
}

func (f *fakeAuthStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeAuthStore) GetUserSecurity(ctx context.Context, userID string) (*models.UserSecurity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sec, ok := f.security[userID]; ok {
		return sec, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAuthStore) SaveUserSecurity(ctx context.Context, u *models.UserSecurity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.security[u.UserID] = u
	return nil
}

func (f *fakeAuthStore) CreateLoginAttempt(ctx context.Context, a *models.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeAuthStore) RecordUserLogin(ctx context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, userID)
	return nil
}

type captureAudit struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (c *captureAudit) Record(e *models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureAudit) kinds() []models.SecurityEventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SecurityEventKind, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventKind
	}
	return out
}

func seedUser(t *testing.T, store *fakeAuthStore, password string) *models.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u := &models.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
	store.users[u.ID] = u
	return u
}

func newTestService(store *fakeAuthStore) (*Service, *captureAudit, *clock.Fake) {
	audit := &captureAudit{}
	// Token validation compares exp against the wall clock, so the fake
	// clock starts at the real present.
	clk := clock.NewFake(time.Now())
	svc := NewService(store, audit, NewTokenIssuer("test-secret", time.Hour), clk, nil)
	return svc, audit, clk
}

var testMeta = Meta{IP: "203.0.113.7", UserAgent: "Mozilla/5.0 test", Country: "DE", City: "Berlin"}

func TestSignInSuccess(t *testing.T) {
	store := newFakeAuthStore()
	seedUser(t, store, "correct horse")
	svc, audit, clk := newTestService(store)

	session, err := svc.SignIn(context.Background(), Credentials{Email: "alice@example.com", Password: "correct horse"}, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, clk.Now().Add(time.Hour), session.ExpiresAt)

	claims, err := svc.issuer.Parse(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)

	sec := store.security["user-1"]
	require.NotNil(t, sec)
	assert.Equal(t, 0, sec.FailedLoginCount)
	assert.Equal(t, "203.0.113.7", sec.LastLoginIP)
	assert.Equal(t, []string{"203.0.113.7"}, sec.RecentIPs)
	require.Len(t, sec.KnownDevices, 1)

	require.Len(t, store.attempts, 1)
	assert.Equal(t, models.LoginAttemptSuccess, store.attempts[0].Status)
	assert.Contains(t, audit.kinds(), models.EventLoginSuccess)
	assert.Equal(t, []string{"user-1"}, store.logins)
}

func TestSignInWrongPassword(t *testing.T) {
	store := newFakeAuthStore()
	seedUser(t, store, "correct horse")
	svc, audit, _ := newTestService(store)

	_, err := svc.SignIn(context.Background(), Credentials{Email: "alice@example.com", Password: "nope"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sec := store.security["user-1"]
	assert.Equal(t, 1, sec.FailedLoginCount)
	assert.Equal(t, models.UserSecurityActive, sec.Status)
	assert.Contains(t, audit.kinds(), models.EventLoginFailed)
}

func TestSignInUnknownEmail(t *testing.T) {
	store := newFakeAuthStore()
	svc, _, _ := newTestService(store)

	_, err := svc.SignIn(context.Background(), Credentials{Email: "ghost@example.com", Password: "x"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, models.LoginAttemptFailed, store.attempts[0].Status)
}

func TestFifthConsecutiveFailureLocksAccount(t *testing.T) {
	store := newFakeAuthStore()
	seedUser(t, store, "correct horse")
	svc, audit, _ := newTestService(store)
	ctx := context.Background()
	bad := Credentials{Email: "alice@example.com", Password: "wrong"}

	for i := 0; i < 4; i++ {
		_, err := svc.SignIn(ctx, bad, testMeta)
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}
	assert.Equal(t, models.UserSecurityActive, store.security["user-1"].Status)

	_, err := svc.SignIn(ctx, bad, testMeta)
	assert.ErrorIs(t, err, ErrAccountLocked, "fifth failure locks")
	assert.Equal(t, models.UserSecurityLocked, store.security["user-1"].Status)
	assert.Equal(t, 5, store.security["user-1"].FailedLoginCount)

	// The lock is evaluated before credentials on the next attempt, even
	// with the correct password.
	_, err = svc.SignIn(ctx, Credentials{Email: "alice@example.com", Password: "correct horse"}, testMeta)
	assert.ErrorIs(t, err, ErrAccountLocked)

	last := store.attempts[len(store.attempts)-1]
	assert.Equal(t, models.LoginAttemptLocked, last.Status)
	assert.Contains(t, audit.kinds(), models.EventLoginBlocked)
}

func TestInactiveAccountBlocked(t *testing.T) {
	store := newFakeAuthStore()
	u := seedUser(t, store, "correct horse")
	u.IsActive = false
	svc, _, _ := newTestService(store)

	_, err := svc.SignIn(context.Background(), Credentials{Email: "alice@example.com", Password: "correct horse"}, testMeta)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestTwoFactorRequired(t *testing.T) {
	store := newFakeAuthStore()
	u := seedUser(t, store, "correct horse")
	u.TwoFactorEnabled = true
	u.TOTPSecret = "JBSWY3DPEHPK3PXP"
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	_, err := svc.SignIn(ctx, Credentials{Email: "alice@example.com", Password: "correct horse"}, testMeta)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)

	_, err = svc.SignIn(ctx, Credentials{Email: "alice@example.com", Password: "correct horse", TOTPCode: "000000"}, testMeta)
	assert.ErrorIs(t, err, ErrTwoFactorInvalid)
	assert.Equal(t, 1, store.security["user-1"].FailedLoginCount, "bad 2fa counts as a failure")
}

func TestRecentIPListBoundedAndDeduplicated(t *testing.T) {
	store := newFakeAuthStore()
	seedUser(t, store, "correct horse")
	svc, _, _ := newTestService(store)
	ctx := context.Background()
	creds := Credentials{Email: "alice@example.com", Password: "correct horse"}

	for i := 0; i < 12; i++ {
		meta := testMeta
		meta.IP = fmt.Sprintf("10.0.0.%d", i+1)
		_, err := svc.SignIn(ctx, creds, meta)
		require.NoError(t, err)
	}
	sec := store.security["user-1"]
	assert.LessOrEqual(t, len(sec.RecentIPs), models.MaxRecentIPs)
}

func TestTokenRoundTripAndTamper(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Hour)
	token, _, err := issuer.Issue("u-1", "a@x", true, time.Now())
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.True(t, claims.IsStaff)
	assert.Equal(t, "admincore", claims.Issuer)

	other := NewTokenIssuer("secret-b", time.Hour)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// The first signin of a freshly created user has no user_security row yet;
// the service must start from an empty profile instead of failing the lookup.
func TestSignInFirstLoginAgainstRepository(t *testing.T) {
	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	_, err = repo.GetUserSecurity(ctx, "no-such-user")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	user := &models.User{
		Email:        "fresh@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
	require.NoError(t, repo.CreateUser(ctx, user))

	svc := NewService(repo, &captureAudit{}, NewTokenIssuer("test-secret", time.Hour), nil, nil)

	_, err = svc.SignIn(ctx, Credentials{Email: "fresh@example.com", Password: "nope"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := svc.SignIn(ctx, Credentials{Email: "fresh@example.com", Password: "correct horse"}, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	sec, err := repo.GetUserSecurity(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sec.FailedLoginCount)
	assert.Equal(t, models.UserSecurityActive, sec.Status)
}
