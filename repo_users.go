package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-storefront-auth/persistence"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var markVerifiedSQL = `UPDATE "users"
SET
	"is_verified" = TRUE,
	"verification_token" = NULL,
	"verification_sent_at" = NULL,
	"updated_at" = ?
WHERE
	"id" = ?
AND
	"verification_token" = ?
RETURNING *;`

var setVerificationTokenSQL = `UPDATE "users"
SET
	"verification_token" = ?,
	"verification_sent_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

var updatePasswordSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"tokens_valid_after" = ?,
	"login_attempts" = 0,
	"login_attempt_at" = NULL,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

var trackSuccessfulLoginSQL = `UPDATE "users"
SET
	"loggedin_at" = ?,
	"login_attempts" = 0,
	"login_attempt_at" = NULL
WHERE
	"id" = ?
RETURNING *;`

var findByVerificationTokenSQL = `SELECT * FROM "users"
WHERE
	"verification_token" = ?
LIMIT 1;`

// Users is the bun backed credential store. Tx variants run against the
// given bun.IDB so callers can compose them inside RunInTx.
type Users interface {
	CredentialStore

	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User, criteria ...repository.InsertCriteria) (*User, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	AddDeletionHook(hook AccountDeletionHook)
}

type users struct {
	repository.Repository[*User]
	db    *bun.DB
	hooks []AccountDeletionHook
	now   func() time.Time
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithUsersClock overrides the clock used for timestamps
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

// WithDeletionHooks registers hooks that run when an account is deleted
func WithDeletionHooks(hooks ...AccountDeletionHook) UsersOption {
	return func(u *users) {
		for _, h := range hooks {
			u.AddDeletionHook(h)
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}
	return repoUsers
}

func (a *users) AddDeletionHook(hook AccountDeletionHook) {
	if hook != nil {
		a.hooks = append(a.hooks, hook)
	}
}

func (a *users) clock() time.Time {
	return a.now().UTC()
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record, err := a.Repository.GetByIdentifierTx(ctx, tx, NormalizeEmail(email))
	if err != nil {
		return nil, userStoreError(err, "email", NormalizeEmail(email))
	}
	return record, nil
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return nil, userStoreError(err, "id", id.String())
	}
	return record, nil
}

func (a *users) FindByVerificationToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}

	records, err := a.Repository.RawTx(ctx, a.db, findByVerificationTokenSQL, token)
	if err != nil {
		return nil, userStoreError(err, "verification_token", "redacted")
	}
	if len(records) == 0 {
		return nil, ErrUserNotFound.Clone().WithMetadata(map[string]any{"verification_token": "redacted"})
	}
	return records[0], nil
}

// Create inserts user. The unique index on email is the only duplicate
// check: a violation becomes ErrEmailTaken.
func (a *users) Create(ctx context.Context, user *User) (*User, error) {
	return a.CreateTx(ctx, a.db, user)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User, criteria ...repository.InsertCriteria) (*User, error) {
	if user == nil {
		return nil, Derive(ErrValidation, "user must not be nil")
	}

	user.prepare(a.clock())

	q := tx.NewInsert().Model(user)
	for _, c := range criteria {
		q = c(q)
	}

	if _, err := q.Exec(ctx); err != nil {
		if persistence.IsUniqueViolation(err) {
			return nil, DeriveFrom(ErrEmailTaken, err, "").WithMetadata(map[string]any{"email": user.Email})
		}
		return nil, storeError(err, "failed to create user")
	}
	return user, nil
}

func (a *users) UpdateRole(ctx context.Context, id uuid.UUID, role UserRole) (*User, error) {
	if !role.IsValid() {
		return nil, NewFieldsError("invalid role", map[string]string{"role": "must be one of user, admin"})
	}

	record := &User{ID: id, Role: role, UpdatedAt: a.clock()}
	if err := a.updateColumns(ctx, a.db, record, "role", "updated_at"); err != nil {
		return nil, err
	}
	return a.FindByID(ctx, id)
}

// Delete removes the user and everything it owns in one transaction.
func (a *users) Delete(ctx context.Context, id uuid.UUID) error {
	return a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, hook := range a.hooks {
			if err := hook.DeleteAccountData(ctx, tx, id); err != nil {
				return err
			}
		}

		if _, err := tx.NewDelete().
			Model((*PasswordReset)(nil)).
			Where("user_id = ?", id).
			Exec(ctx); err != nil {
			return storeError(err, "failed to delete password resets")
		}

		res, err := tx.NewDelete().
			Model((*User)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return storeError(err, "failed to delete user")
		}
		return expectAffected(res, id)
	})
}

// MarkVerified flags the user as verified and consumes token. The update
// only applies while token is still the stored one, so a token raced by a
// resend or a second verification fails with ErrVerificationTokenInvalid.
func (a *users) MarkVerified(ctx context.Context, id uuid.UUID, token string) (*User, error) {
	if token == "" {
		return nil, ErrVerificationTokenInvalid
	}

	records, err := a.Repository.RawTx(ctx, a.db, markVerifiedSQL, a.clock(), id.String(), token)
	if err != nil {
		return nil, storeError(err, "failed to verify user")
	}
	if len(records) == 0 {
		return nil, ErrVerificationTokenInvalid.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	return records[0], nil
}

func (a *users) SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	now := a.clock()
	var (
		value  *string
		sentAt *time.Time
	)
	if token != "" {
		value = &token
		sentAt = &now
	}
	return a.rawUpdate(ctx, a.db, id, setVerificationTokenSQL, value, sentAt, now, id.String())
}

func (a *users) List(ctx context.Context, opts ListOptions) ([]*User, int, error) {
	opts = opts.Normalize()

	records, count, err := a.Repository.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.created_at DESC").
			Limit(opts.Limit).
			Offset(opts.Offset)
	})
	if err != nil {
		return nil, 0, storeError(err, "failed to list users")
	}
	return records, count, nil
}

func (a *users) UpdateShippingAddress(ctx context.Context, id uuid.UUID, address *ShippingAddress) (*User, error) {
	record := &User{
		ID:              id,
		ShippingAddress: address,
		UpdatedAt:       a.clock(),
	}
	if err := a.updateColumns(ctx, a.db, record, "shipping_address", "updated_at"); err != nil {
		return nil, err
	}
	return a.FindByID(ctx, id)
}

// UpdatePassword stores a new hash and invalidates tokens issued before now.
func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	if passwordHash == "" {
		return ErrNoEmptyString
	}
	now := a.clock()
	return a.rawUpdate(ctx, tx, id, updatePasswordSQL, passwordHash, now, now, id.String())
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	now := a.clock()
	record := &User{
		ID:             user.ID,
		LoginAttempts:  user.LoginAttempts + 1,
		LoginAttemptAt: &now,
	}
	return a.updateColumns(ctx, a.db, record, "login_attempts", "login_attempt_at")
}

// TrackSuccessfulLogin records the login and clears the attempt counter.
// The reset goes through raw SQL since the repository update skips zero values.
func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.rawUpdate(ctx, a.db, user.ID, trackSuccessfulLoginSQL, a.clock(), user.ID.String())
}

func (a *users) updateColumns(ctx context.Context, tx bun.IDB, record *User, columns ...string) error {
	_, err := a.Repository.UpdateTx(ctx, tx, record,
		repository.UpdateByID(record.ID.String()),
		func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Column(columns...)
		},
	)
	if err != nil {
		return userStoreError(err, "id", record.ID.String())
	}
	return nil
}

func (a *users) rawUpdate(ctx context.Context, tx bun.IDB, id uuid.UUID, query string, args ...any) error {
	records, err := a.Repository.RawTx(ctx, tx, query, args...)
	if err != nil {
		return storeError(err, "failed to update user")
	}
	if len(records) == 0 {
		return ErrUserNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	return nil
}

func expectAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err, "failed to read affected rows")
	}
	if n == 0 {
		return ErrUserNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	return nil
}

func userStoreError(err error, column, value string) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound.Clone().WithMetadata(map[string]any{column: value})
	}
	return storeError(err, "failed to query users")
}
