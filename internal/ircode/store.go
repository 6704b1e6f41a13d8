package ircode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/database"
)

// Code is one stored IR code.
type Code struct {
	// ID is the unique record identifier (UUID, assigned on create).
	ID string `json:"id"`

	// DeviceID names the controlled device the code belongs to. This is
	// the IR target (the TV), not the blaster that emits it.
	DeviceID string `json:"device_id"`

	// Function names what the code does ("power_on", "hdmi_2").
	Function string `json:"function"`

	// Code is the full sendir string.
	Code string `json:"code"`

	// Description is free text for installers.
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// validate checks the record fields and the sendir string itself.
func (c Code) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalid)
	}
	if c.Function == "" {
		return fmt.Errorf("%w: function is required", ErrInvalid)
	}
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalid)
	}
	return codec.ValidateSendIR(c.Code)
}

// Store defines the interface for IR code persistence. The abstraction
// keeps API handlers testable without a database.
type Store interface {
	// Create inserts a new code, assigning its ID.
	// Returns ErrExists when the device+function pair is taken.
	Create(ctx context.Context, code Code) (Code, error)

	// Get retrieves a code by record ID.
	Get(ctx context.Context, id string) (Code, error)

	// GetByFunction retrieves a code by device and function name.
	GetByFunction(ctx context.Context, deviceID, function string) (Code, error)

	// List retrieves all codes, or one device's codes when deviceID is
	// non-empty. Ordered by device then function.
	List(ctx context.Context, deviceID string) ([]Code, error)

	// Update replaces the code text and description of an existing record.
	Update(ctx context.Context, code Code) (Code, error)

	// Delete removes a code by record ID.
	Delete(ctx context.Context, id string) error
}

// SQLiteStore implements Store on the gateway database.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a SQLite-backed code store.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create inserts a new code, assigning its ID.
func (s *SQLiteStore) Create(ctx context.Context, code Code) (Code, error) {
	if err := code.validate(); err != nil {
		return Code{}, err
	}

	code.ID = uuid.NewString()
	now := time.Now().UTC()
	code.CreatedAt = now
	code.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ir_codes (id, device_id, function, code, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code.ID, code.DeviceID, code.Function, code.Code, code.Description,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Code{}, fmt.Errorf("%w: %s/%s", ErrExists, code.DeviceID, code.Function)
		}
		return Code{}, fmt.Errorf("inserting ir code: %w", err)
	}

	return code, nil
}

// Get retrieves a code by record ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Code, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, function, code, description, created_at, updated_at
		FROM ir_codes
		WHERE id = ?`, id)
	return scanCode(row)
}

// GetByFunction retrieves a code by device and function name.
func (s *SQLiteStore) GetByFunction(ctx context.Context, deviceID, function string) (Code, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, function, code, description, created_at, updated_at
		FROM ir_codes
		WHERE device_id = ? AND function = ?`, deviceID, function)
	return scanCode(row)
}

// List retrieves codes, optionally filtered by device.
func (s *SQLiteStore) List(ctx context.Context, deviceID string) ([]Code, error) {
	query := `
		SELECT id, device_id, function, code, description, created_at, updated_at
		FROM ir_codes`
	args := []interface{}{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY device_id, function"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ir codes: %w", err)
	}
	defer rows.Close()

	var codes []Code
	for rows.Next() {
		c, err := scanCodeRows(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ir codes: %w", err)
	}
	return codes, nil
}

// Update replaces the code text and description of an existing record.
// Device and function are immutable; delete and recreate to move a code.
func (s *SQLiteStore) Update(ctx context.Context, code Code) (Code, error) {
	if code.ID == "" {
		return Code{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}

	current, err := s.Get(ctx, code.ID)
	if err != nil {
		return Code{}, err
	}
	current.Code = code.Code
	current.Description = code.Description

	if err := current.validate(); err != nil {
		return Code{}, err
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE ir_codes
		SET code = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		current.Code, current.Description,
		current.UpdatedAt.Format(time.RFC3339), current.ID,
	)
	if err != nil {
		return Code{}, fmt.Errorf("updating ir code: %w", err)
	}
	return current, nil
}

// Delete removes a code by record ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM ir_codes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting ir code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanCode reads one code from a single-row query.
func scanCode(row *sql.Row) (Code, error) {
	var c Code
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.DeviceID, &c.Function, &c.Code, &c.Description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, fmt.Errorf("scanning ir code: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return c, nil
}

// scanCodeRows reads one code from a multi-row result set.
func scanCodeRows(rows *sql.Rows) (Code, error) {
	var c Code
	var createdAt, updatedAt string
	err := rows.Scan(&c.ID, &c.DeviceID, &c.Function, &c.Code, &c.Description, &createdAt, &updatedAt)
	if err != nil {
		return Code{}, fmt.Errorf("scanning ir code: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return c, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
