// Package auth implements the signin flow: credential verification, optional
// TOTP, per-account lockout, login-attempt accounting and token issuance.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrTwoFactorRequired  = errors.New("two-factor code required")
	ErrTwoFactorInvalid   = errors.New("two-factor code invalid")
)

// Store is the persistence surface the signin flow uses.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserSecurity(ctx context.Context, userID string) (*models.UserSecurity, error)
	SaveUserSecurity(ctx context.Context, u *models.UserSecurity) error
	CreateLoginAttempt(ctx context.Context, a *models.LoginAttempt) error
	RecordUserLogin(ctx context.Context, userID string, at time.Time) error
}

// Recorder accepts security events.
type Recorder interface {
	Record(e *models.SecurityEvent)
}

// Meta carries the request-side identity of a signin attempt.
type Meta struct {
	IP        string
	UserAgent string
	Country   string
	City      string
}

// Credentials is one signin submission.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

// Session is a successful signin result.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Service runs signin attempts.
type Service struct {
	store  Store
	audit  Recorder
	issuer *TokenIssuer
	clk    clock.Clock
	log    *slog.Logger
}

// NewService builds the auth service.
func NewService(store Store, audit Recorder, issuer *TokenIssuer, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, audit: audit, issuer: issuer, clk: clk, log: log}
}

// SignIn verifies credentials and returns a session. Every outcome is
// recorded as a LoginAttempt and a SecurityEvent. The fifth consecutive
// failure locks the account before any further attempt is evaluated.
func (s *Service) SignIn(ctx context.Context, creds Credentials, meta Meta) (*Session, error) {
	now := s.clk.Now()

	user, err := s.store.GetUserByEmail(ctx, creds.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.recordAttempt(ctx, creds.Email, nil, models.LoginAttemptFailed, meta, "unknown email")
		s.recordEvent(models.EventLoginFailed, creds.Email, nil, meta, "unknown email")
		return nil, ErrInvalidCredentials
	}

	sec, err := s.loadSecurity(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if sec.Status == models.UserSecurityLocked {
		s.recordAttempt(ctx, creds.Email, &user.ID, models.LoginAttemptLocked, meta, "account locked")
		s.recordEvent(models.EventLoginBlocked, creds.Email, &user.ID, meta, "attempt against locked account")
		return nil, ErrAccountLocked
	}
	if !user.IsActive {
		s.recordAttempt(ctx, creds.Email, &user.ID, models.LoginAttemptBlocked, meta, "account inactive")
		s.recordEvent(models.EventLoginBlocked, creds.Email, &user.ID, meta, "attempt against inactive account")
		return nil, ErrAccountInactive
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return nil, s.fail(ctx, user, sec, meta, "wrong password")
	}

	if user.TwoFactorEnabled || sec.RequireTwoFactor {
		if creds.TOTPCode == "" {
			s.recordAttempt(ctx, creds.Email, &user.ID, models.LoginAttemptFailed, meta, "2fa required")
			return nil, ErrTwoFactorRequired
		}
		if !totp.Validate(creds.TOTPCode, user.TOTPSecret) {
			if err := s.fail(ctx, user, sec, meta, "invalid 2fa code"); errors.Is(err, ErrAccountLocked) {
				return nil, err
			}
			return nil, ErrTwoFactorInvalid
		}
	}

	return s.succeed(ctx, user, sec, meta, now)
}

// fail books one consecutive failure, locking the account at the threshold.
func (s *Service) fail(ctx context.Context, user *models.User, sec *models.UserSecurity, meta Meta, reason string) error {
	now := s.clk.Now()
	sec.FailedLoginCount++
	sec.LastFailedLogin = &now

	locked := sec.FailedLoginCount >= models.MaxFailedLogins
	if locked {
		sec.Status = models.UserSecurityLocked
	}
	// The lock must be durable before this attempt is answered.
	if err := s.store.SaveUserSecurity(ctx, sec); err != nil {
		return err
	}

	s.recordAttempt(ctx, user.Email, &user.ID, models.LoginAttemptFailed, meta, reason)
	s.recordEvent(models.EventLoginFailed, user.Email, &user.ID, meta, reason)
	if locked {
		s.log.Warn("account locked after consecutive failures", "user_id", user.ID, "failures", sec.FailedLoginCount)
		s.recordEvent(models.EventSuspiciousActivity, user.Email, &user.ID, meta, "account locked after consecutive login failures")
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

func (s *Service) succeed(ctx context.Context, user *models.User, sec *models.UserSecurity, meta Meta, now time.Time) (*Session, error) {
	sec.FailedLoginCount = 0
	sec.LastSuccessfulLogin = &now
	sec.LastLoginIP = meta.IP
	sec.LastLoginCountry = meta.Country
	sec.LastLoginCity = meta.City
	sec.RecordIP(meta.IP)
	sec.RecordDevice(meta.UserAgent, now)
	if err := s.store.SaveUserSecurity(ctx, sec); err != nil {
		return nil, err
	}
	if err := s.store.RecordUserLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	s.recordAttempt(ctx, user.Email, &user.ID, models.LoginAttemptSuccess, meta, "")
	s.recordEvent(models.EventLoginSuccess, user.Email, &user.ID, meta, "")

	token, expires, err := s.issuer.Issue(user.ID, user.Email, user.IsStaff, now)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func (s *Service) loadSecurity(ctx context.Context, userID string) (*models.UserSecurity, error) {
	sec, err := s.store.GetUserSecurity(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.UserSecurity{
			UserID: userID,
			Status: models.UserSecurityActive,
		}, nil
	}
	return sec, err
}

func (s *Service) recordAttempt(ctx context.Context, email string, userID *string, status models.LoginAttemptStatus, meta Meta, reason string) {
	attempt := &models.LoginAttempt{
		Email:         email,
		UserID:        userID,
		Status:        status,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
		Country:       meta.Country,
		City:          meta.City,
		FailureReason: reason,
	}
	if err := s.store.CreateLoginAttempt(ctx, attempt); err != nil {
		s.log.Error("login attempt write failed", "email", email, "error", err)
	}
}

func (s *Service) recordEvent(kind models.SecurityEventKind, email string, userID *string, meta Meta, description string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(&models.SecurityEvent{
		EventKind:   kind,
		Severity:    models.DefaultSeverity(kind),
		Title:       string(kind) + " for " + email,
		Description: description,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		Country:     meta.Country,
		City:        meta.City,
		UserID:      userID,
		CreatedAt:   s.clk.Now(),
	})
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
