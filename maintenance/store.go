// Package maintenance switches the storefront into maintenance mode.
package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/uptrace/bun"
)

// SettingKey is the settings row holding the maintenance state
const SettingKey = "maintenance"

// State is the maintenance mode flag and the message shown to customers
type State struct {
	Enabled   bool      `json:"enabled"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Setting is a key/value row in the settings table
type Setting struct {
	bun.BaseModel `bun:"table:settings,alias:stg"`
	Key           string    `bun:"key,pk"`
	Value         string    `bun:"value,notnull"`
	UpdatedBy     string    `bun:"updated_by,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// Store keeps the state in the database and mirrors it to a JSON file so
// it survives a database outage.
type Store struct {
	db     *bun.DB
	file   string
	logger auth.Logger
	now    func() time.Time
}

func NewStore(db *bun.DB, file string) *Store {
	return &Store{
		db:     db,
		file:   file,
		logger: auth.NopLogger{},
		now:    time.Now,
	}
}

func (s *Store) WithLogger(logger auth.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Get returns the current state. A database failure falls back to the
// mirror file, and a missing file means disabled.
func (s *Store) Get(ctx context.Context) State {
	state, err := s.load(ctx)
	if err == nil {
		return state
	}

	s.logger.Warn("maintenance state read failed, using file", "error", err)

	state, err = s.readFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("maintenance file read failed", "file", s.file, "error", err)
		}
		return State{}
	}
	return state
}

// Set persists state and refreshes the mirror file.
func (s *Store) Set(ctx context.Context, enabled bool, message, updatedBy string) (State, error) {
	state := State{
		Enabled:   enabled,
		Message:   message,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: updatedBy,
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return State{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode maintenance state")
	}

	row := &Setting{
		Key:       SettingKey,
		Value:     string(raw),
		UpdatedBy: updatedBy,
		UpdatedAt: state.UpdatedAt,
	}

	if _, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_by = EXCLUDED.updated_by").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return State{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store maintenance state")
	}

	if err := s.writeFile(raw); err != nil {
		s.logger.Warn("maintenance file write failed", "file", s.file, "error", err)
	}

	return state, nil
}

func (s *Store) load(ctx context.Context) (State, error) {
	row := &Setting{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.key = ?", SettingKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, nil
		}
		return State{}, err
	}

	state := State{}
	if err := json.Unmarshal([]byte(row.Value), &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *Store) readFile() (State, error) {
	state := State{}
	if s.file == "" {
		return state, os.ErrNotExist
	}

	raw, err := os.ReadFile(s.file)
	if err != nil {
		return state, err
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *Store) writeFile(raw []byte) error {
	if s.file == "" {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.file), ".maintenance-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.file)
}
