package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrListingNotFound indicates the listing does not exist.
var ErrListingNotFound = errors.New("listing not found")

// ErrStaleStatus indicates a conditional status update lost a race: the
// stored status no longer matched the expected one at the moment of write.
var ErrStaleStatus = errors.New("status changed concurrently")

// Listing represents an item offered for sale. Status fields are joined
// from the listing status reference table at read time.
type Listing struct {
	ID            int64
	SellerID      int64
	Title         string
	Description   sql.NullString
	Price         int64
	StatusID      int64
	StatusName    string
	StatusDisplay string
	Purchasable   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateListing creates a listing in the ON_SALE state.
func (db *DB) CreateListing(ctx context.Context, sellerID int64, title, description string, price int64) (*Listing, error) {
	var desc sql.NullString
	if description != "" {
		desc = sql.NullString{String: description, Valid: true}
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO listings (seller_id, title, description, price, status_id)
		VALUES (?, ?, ?, ?, (SELECT id FROM listing_statuses WHERE name = 'ON_SALE'))
	`, sellerID, title, desc, price)
	if err != nil {
		return nil, fmt.Errorf("creating listing: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting listing id: %w", err)
	}

	return db.GetListingByID(ctx, id)
}

// GetListingByID returns a listing snapshot including its current status.
func (db *DB) GetListingByID(ctx context.Context, id int64) (*Listing, error) {
	var l Listing
	err := db.QueryRowContext(ctx, `
		SELECT l.id, l.seller_id, l.title, l.description, l.price,
		       l.status_id, s.name, s.display_name, s.purchasable,
		       l.created_at, l.updated_at
		FROM listings l
		JOIN listing_statuses s ON l.status_id = s.id
		WHERE l.id = ?
	`, id).Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Price,
		&l.StatusID, &l.StatusName, &l.StatusDisplay, &l.Purchasable,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying listing: %w", err)
	}
	return &l, nil
}

// ListOpenListings returns listings currently in a purchasable state,
// newest first.
func (db *DB) ListOpenListings(ctx context.Context, limit int) ([]Listing, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT l.id, l.seller_id, l.title, l.description, l.price,
		       l.status_id, s.name, s.display_name, s.purchasable,
		       l.created_at, l.updated_at
		FROM listings l
		JOIN listing_statuses s ON l.status_id = s.id
		WHERE s.purchasable = 1
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying open listings: %w", err)
	}
	return scanListings(rows)
}

// ListListingsBySeller returns a seller's listings, newest first.
func (db *DB) ListListingsBySeller(ctx context.Context, sellerID int64) ([]Listing, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT l.id, l.seller_id, l.title, l.description, l.price,
		       l.status_id, s.name, s.display_name, s.purchasable,
		       l.created_at, l.updated_at
		FROM listings l
		JOIN listing_statuses s ON l.status_id = s.id
		WHERE l.seller_id = ?
		ORDER BY l.created_at DESC, l.id DESC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("querying seller listings: %w", err)
	}
	return scanListings(rows)
}

func scanListings(rows *sql.Rows) ([]Listing, error) {
	defer func() { _ = rows.Close() }()

	var listings []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Price,
			&l.StatusID, &l.StatusName, &l.StatusDisplay, &l.Purchasable,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listings: %w", err)
	}
	return listings, nil
}

// TransitionListingStatus conditionally moves a listing to a new status.
// The update succeeds only if the stored status still equals
// expectedStatusID at the moment of write; otherwise ErrStaleStatus is
// returned (or ErrListingNotFound if the listing does not exist).
func (db *DB) TransitionListingStatus(ctx context.Context, listingID, expectedStatusID, newStatusID int64) error {
	var result sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = db.ExecContext(ctx, `
			UPDATE listings SET status_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status_id = ?
		`, newStatusID, listingID, expectedStatusID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("updating listing status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := db.GetListingByID(ctx, listingID); errors.Is(err, ErrListingNotFound) {
			return ErrListingNotFound
		}
		return ErrStaleStatus
	}
	return nil
}
