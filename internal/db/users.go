package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound indicates the user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrAddressNotFound indicates no shipping address exists.
var ErrAddressNotFound = errors.New("address not found")

// User represents a marketplace participant, identified by their npub.
type User struct {
	ID          int64
	Npub        string
	DisplayName sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Address represents a shipping address belonging to a user.
type Address struct {
	ID            int64
	UserID        int64
	RecipientName string
	PostalCode    string
	Region        string
	City          string
	Street        string
	Phone         sql.NullString
	IsDefault     bool
	CreatedAt     time.Time
}

// GetUserByNpub returns a user by their npub.
func (db *DB) GetUserByNpub(ctx context.Context, npub string) (*User, error) {
	var u User
	err := db.QueryRowContext(ctx, `
		SELECT id, npub, display_name, created_at, updated_at
		FROM users WHERE npub = ?
	`, npub).Scan(&u.ID, &u.Npub, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns a user by their ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := db.QueryRowContext(ctx, `
		SELECT id, npub, display_name, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Npub, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// EnsureUser returns the user for an npub, registering them on first contact.
func (db *DB) EnsureUser(ctx context.Context, npub string) (*User, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (npub) VALUES (?) ON CONFLICT(npub) DO NOTHING
	`, npub)
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}
	return db.GetUserByNpub(ctx, npub)
}

// SetDefaultAddress stores a shipping address for the user and makes it their
// default, clearing any previous default in the same transaction.
func (db *DB) SetDefaultAddress(ctx context.Context, userID int64, a Address) (*Address, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE addresses SET is_default = 0 WHERE user_id = ? AND is_default = 1
	`, userID); err != nil {
		return nil, fmt.Errorf("clearing default address: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO addresses (user_id, recipient_name, postal_code, region, city, street, phone, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, userID, a.RecipientName, a.PostalCode, a.Region, a.City, a.Street, a.Phone)
	if err != nil {
		return nil, fmt.Errorf("inserting address: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting address id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	a.ID = id
	a.UserID = userID
	a.IsDefault = true
	return &a, nil
}

// GetDefaultAddress returns the user's default shipping address, or
// ErrAddressNotFound if they have none.
func (db *DB) GetDefaultAddress(ctx context.Context, userID int64) (*Address, error) {
	var a Address
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, recipient_name, postal_code, region, city, street, phone, is_default, created_at
		FROM addresses WHERE user_id = ? AND is_default = 1
	`, userID).Scan(&a.ID, &a.UserID, &a.RecipientName, &a.PostalCode, &a.Region, &a.City, &a.Street, &a.Phone, &a.IsDefault, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying default address: %w", err)
	}
	return &a, nil
}

// GetAddressByID returns an address by ID.
func (db *DB) GetAddressByID(ctx context.Context, id int64) (*Address, error) {
	var a Address
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, recipient_name, postal_code, region, city, street, phone, is_default, created_at
		FROM addresses WHERE id = ?
	`, id).Scan(&a.ID, &a.UserID, &a.RecipientName, &a.PostalCode, &a.Region, &a.City, &a.Street, &a.Phone, &a.IsDefault, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying address: %w", err)
	}
	return &a, nil
}

// TryProcess records an inbound event id if it has not been seen before.
// Returns true if the event is new, false if it was already processed.
// This is the storage-level guard against replayed or redelivered DMs.
func (db *DB) TryProcess(ctx context.Context, eventID string, kind int, createdAt int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, kind, event_created_at)
		VALUES (?, ?, ?) ON CONFLICT(event_id) DO NOTHING
	`, eventID, kind, createdAt)
	if err != nil {
		return false, fmt.Errorf("recording processed event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}
