package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Customer email."`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetResponse is reported back to callers that need the
// session, typically tests. It is never rendered to clients.
type InitializePasswordResetResponse struct {
	Reset   *PasswordReset
	Success bool
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	admin    *AdminAccount
	activity ActivitySink
	logger   Logger
	baseURL  string
	now      func() time.Time
}

var _ command.Commander[InitializePasswordResetMessage] = (*InitializePasswordResetHandler)(nil)

func NewInitializePasswordResetHandler(repo RepositoryManager, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		mailer:   mailer,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

func (h *InitializePasswordResetHandler) WithClock(now func() time.Time) *InitializePasswordResetHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// WithAdminAccount makes the handler skip the configured administrator
func (h *InitializePasswordResetHandler) WithAdminAccount(admin *AdminAccount) *InitializePasswordResetHandler {
	h.admin = admin
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *InitializePasswordResetHandler) WithBaseURL(baseURL string) *InitializePasswordResetHandler {
	h.baseURL = strings.TrimRight(baseURL, "/")
	return h
}

// Execute starts a reset session. Unknown emails succeed silently so the
// endpoint cannot be used to enumerate accounts.
func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	_, err := h.Initialize(ctx, event)
	return err
}

// Initialize is Execute reporting the created session, if any.
func (h *InitializePasswordResetHandler) Initialize(ctx context.Context, event InitializePasswordResetMessage) (*InitializePasswordResetResponse, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryInternal, "context cancelled during password reset initialization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) (*InitializePasswordResetResponse, error) {
	if err := event.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	resp := &InitializePasswordResetResponse{Success: true}

	if h.admin.MatchesEmail(event.Email) {
		h.logger.Info("password reset requested for administrator, ignoring")
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().FindByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		now := h.now().UTC()
		reset := &PasswordReset{
			ID:        uuid.New(),
			UserID:    user.ID,
			Email:     user.Email,
			Status:    ResetRequestedStatus,
			CreatedAt: now,
			UpdatedAt: now,
		}

		created, err := h.repo.PasswordResets().CreateTx(ctx, tx, reset)
		if err != nil {
			return storeError(err, "failed to create password reset")
		}
		resp.Reset = created
		return nil
	})
	if err != nil {
		return nil, AsError(err)
	}

	if resp.Reset == nil {
		return resp, nil
	}

	link := fmt.Sprintf("%s/api/auth/password-reset/%s", h.baseURL, resp.Reset.ID.String())
	if h.mailer != nil {
		if err := h.mailer.SendPasswordResetEmail(ctx, resp.Reset.Email, link); err != nil {
			h.logger.Warn("password reset email failed", "reset_id", resp.Reset.ID.String(), "error", err)
		}
	}

	RecordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     ActorRef{ID: resp.Reset.UserID.String(), Type: "user"},
		UserID:    resp.Reset.UserID.String(),
		Metadata:  map[string]any{"password_reset_id": resp.Reset.ID.String()},
	})

	return resp, nil
}
