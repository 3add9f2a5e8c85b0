package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MaxLoginAttempts is the maximun number of failed attempts a user gets
// in a CoolDownPeriod
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// VerificationTokenTTL is how long an email verification link stays valid
const VerificationTokenTTL = 24 * time.Hour

// AuthResult is returned by every operation that issues a token
type AuthResult struct {
	User   *User      `json:"user"`
	Token  string     `json:"token"`
	Claims AuthClaims `json:"-"`
}

// RegisterUserMessage is the registration input
type RegisterUserMessage struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate will run validation rules
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 72)),
	)
}

// Auther implements registration, login, email verification and logout
type Auther struct {
	users        CredentialStore
	tokens       TokenService
	admin        *AdminAccount
	revoked      RevocationList
	mailer       Mailer
	activitySink ActivitySink
	logger       Logger
	baseURL      string
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator. admin may be nil.
func NewAuthenticator(users CredentialStore, tokens TokenService, admin *AdminAccount) *Auther {
	return &Auther{
		users:        users,
		tokens:       tokens,
		admin:        admin,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithMailer sets the mailer used for verification messages
func (s *Auther) WithMailer(mailer Mailer) *Auther {
	s.mailer = mailer
	return s
}

// WithRevocationList enables logout through the token id denylist
func (s *Auther) WithRevocationList(list RevocationList) *Auther {
	s.revoked = list
	return s
}

// WithBaseURL sets the public URL used to build links in emails
func (s *Auther) WithBaseURL(baseURL string) *Auther {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Register creates an unverified user and issues a token. Duplicate
// emails are detected by the store's unique constraint.
func (s *Auther) Register(ctx context.Context, msg RegisterUserMessage) (*AuthResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	if s.admin.MatchesEmail(msg.Email) {
		return nil, ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": NormalizeEmail(msg.Email)})
	}

	hash, err := HashPassword(msg.Password)
	if err != nil {
		return nil, err
	}

	verification, err := RandomToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		Name:               msg.Name,
		Email:              msg.Email,
		PasswordHash:       hash,
		Role:               RoleUser,
		VerificationToken:  &verification,
		VerificationSentAt: &now,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if !goerrors.IsCategory(err, goerrors.CategoryConflict) {
			s.logger.Error("register user failed", "error", err)
		}
		return nil, err
	}

	s.sendVerification(ctx, created, verification)

	result, err := s.issue(NewUserIdentity(created))
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventRegistered, ActorFromIdentity(NewUserIdentity(created)), created.ID.String(), nil)

	return result, nil
}

// Login verifies a credential pair. The configured administrator is
// checked first and never touches the store. Unknown emails and wrong
// passwords fail identically.
func (s *Auther) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, NewFieldsError("email and password are required", map[string]string{"email": "cannot be blank", "password": "cannot be blank"})
	}

	if s.admin.MatchesEmail(email) {
		if err := s.admin.VerifyPassword(password); err != nil {
			s.loginFailed(ctx, email, "", err)
			return nil, ErrInvalidCredentials
		}
		identity := s.admin.Identity()
		result, err := s.issue(identity)
		if err != nil {
			return nil, err
		}
		s.emit(ctx, ActivityEventLoginSuccess, ActorFromIdentity(identity), identity.ID(), map[string]any{"identifier": identity.Email()})
		return result, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			burnPasswordCompare(password)
			s.loginFailed(ctx, email, "", err)
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("login lookup failed", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
		}
		if expired {
			user.LoginAttempts = 0
		}
	}

	if user.LoginAttempts >= MaxLoginAttempts {
		s.loginFailed(ctx, email, user.ID.String(), ErrTooManyLoginAttempts)
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := s.users.TrackAttemptedLogin(ctx, user); err2 != nil {
			s.logger.Error("failed to track login attempt", "error", err2)
		}
		s.loginFailed(ctx, email, user.ID.String(), err)
		return nil, ErrInvalidCredentials
	}

	if err := s.users.TrackSuccessfulLogin(ctx, user); err != nil {
		s.logger.Error("failed to track successful login", "error", err)
	}

	identity := NewUserIdentity(user)
	result, err := s.issue(identity)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventLoginSuccess, ActorFromIdentity(identity), identity.ID(), map[string]any{"identifier": user.Email})

	return result, nil
}

// VerifyEmail consumes a single use verification token and issues a login token.
func (s *Auther) VerifyEmail(ctx context.Context, token string) (*AuthResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, NewFieldsError("verification token is required", map[string]string{"token": "cannot be blank"})
	}

	user, err := s.users.FindByVerificationToken(ctx, token)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrVerificationTokenInvalid
		}
		return nil, err
	}

	if user.VerificationSentAt != nil && !isWithin(*user.VerificationSentAt, s.now(), VerificationTokenTTL) {
		return nil, ErrVerificationTokenInvalid
	}

	verified, err := s.users.MarkVerified(ctx, user.ID, token)
	if err != nil {
		return nil, err
	}

	identity := NewUserIdentity(verified)
	result, err := s.issue(identity)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventEmailVerified, ActorFromIdentity(identity), identity.ID(), nil)

	return result, nil
}

// ResendVerification issues a fresh verification token for an unverified user.
func (s *Auther) ResendVerification(ctx context.Context, identity Identity) error {
	if IsSyntheticAdmin(identity) {
		return ErrAdminAccountImmutable
	}

	user, err := s.findUser(ctx, identity)
	if err != nil {
		return err
	}

	if user.IsVerified {
		return Derive(ErrConflict, "email is already verified")
	}

	token, err := RandomToken(32)
	if err != nil {
		return err
	}

	if err := s.users.SetVerificationToken(ctx, user.ID, token); err != nil {
		return err
	}

	s.sendVerification(ctx, user, token)
	return nil
}

// Logout revokes the token the identity was resolved from.
func (s *Auther) Logout(ctx context.Context, identity UserIdentity) error {
	claims := identity.Claims()
	if claims == nil {
		return ErrUnauthenticated
	}

	if s.revoked != nil && claims.TokenID() != "" {
		if err := s.revoked.Revoke(ctx, claims.TokenID(), claims.Subject(), claims.Expires()); err != nil {
			s.logger.Error("logout revoke failed", "error", err)
			return err
		}
	}

	s.emit(ctx, ActivityEventLogout, ActorFromIdentity(identity), identity.ID(), map[string]any{"jti": claims.TokenID()})
	return nil
}

// ChangePassword replaces the password after checking the current one.
// Tokens issued before the change stop resolving; a fresh one is returned.
func (s *Auther) ChangePassword(ctx context.Context, identity Identity, current, next string) (*AuthResult, error) {
	if IsSyntheticAdmin(identity) {
		return nil, ErrAdminAccountImmutable
	}

	user, err := s.findUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := ComparePasswordAndHash(current, user.PasswordHash); err != nil {
		return nil, NewFieldsError("current password is incorrect", map[string]string{"current_password": "is incorrect"})
	}

	hash, err := HashPassword(next)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventPasswordChanged, ActorFromIdentity(identity), user.ID.String(), nil)

	return s.issue(NewUserIdentity(user))
}

// DeleteAccount removes the caller's account and everything it owns.
func (s *Auther) DeleteAccount(ctx context.Context, identity UserIdentity) error {
	if identity.Synthetic() {
		return ErrAdminAccountImmutable
	}

	id, err := uuid.Parse(identity.ID())
	if err != nil {
		return ErrUserNotFound
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	s.emit(ctx, ActivityEventAccountDeleted, ActorFromIdentity(identity), identity.ID(), map[string]any{"self": true})
	return nil
}

func (s *Auther) findUser(ctx context.Context, identity Identity) (*User, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, ErrUserNotFound
	}
	return s.users.FindByID(ctx, id)
}

func (s *Auther) issue(identity UserIdentity) (*AuthResult, error) {
	token, claims, err := s.tokens.Generate(identity)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		return nil, err
	}
	return &AuthResult{
		User:   identity.User(),
		Token:  token,
		Claims: claims,
	}, nil
}

func (s *Auther) sendVerification(ctx context.Context, user *User, token string) {
	if s.mailer == nil {
		return
	}
	link := fmt.Sprintf("%s/api/auth/verify-email?token=%s", s.baseURL, token)
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, link); err != nil {
		s.logger.Warn("verification email failed", "user_id", user.ID.String(), "error", err)
	}
}

func (s *Auther) loginFailed(ctx context.Context, email, userID string, cause error) {
	s.logger.Info("login failed", "identifier", NormalizeEmail(email), "error", cause)
	s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, userID, map[string]any{
		"identifier": NormalizeEmail(email),
		"error":      cause.Error(),
	})
}

func (s *Auther) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	RecordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: s.now(),
	})
}
