package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStatusNotFound indicates a referenced status name does not exist.
var ErrStatusNotFound = errors.New("status not found")

// ErrEdgeNotFound indicates a transition edge does not exist.
var ErrEdgeNotFound = errors.New("transition edge not found")

// ListingStatus is a row of the listing status reference table.
type ListingStatus struct {
	ID          int64
	Name        string
	DisplayName string
	Purchasable bool
}

// TradeStatus is a row of the trade status reference table.
type TradeStatus struct {
	ID          int64
	Name        string
	DisplayName string
}

// StatusEdge is one admissible transition. FromID is NULL on the entry edge
// that marks the trade chain's start state.
type StatusEdge struct {
	ID     int64
	FromID sql.NullInt64
	ToID   int64
	Note   sql.NullString
}

// ListListingStatuses returns all listing statuses.
func (db *DB) ListListingStatuses(ctx context.Context) ([]ListingStatus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, display_name, purchasable FROM listing_statuses ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying listing statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []ListingStatus
	for rows.Next() {
		var s ListingStatus
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Purchasable); err != nil {
			return nil, fmt.Errorf("scanning listing status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listing statuses: %w", err)
	}
	return statuses, nil
}

// ListTradeStatuses returns all trade statuses.
func (db *DB) ListTradeStatuses(ctx context.Context) ([]TradeStatus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, display_name FROM trade_statuses ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying trade statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []TradeStatus
	for rows.Next() {
		var s TradeStatus
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning trade status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trade statuses: %w", err)
	}
	return statuses, nil
}

// ListListingEdges returns the listing transition edges in id order.
func (db *DB) ListListingEdges(ctx context.Context) ([]StatusEdge, error) {
	return db.listEdges(ctx, "listing_status_transitions")
}

// ListTradeEdges returns the trade transition edges in id order.
func (db *DB) ListTradeEdges(ctx context.Context) ([]StatusEdge, error) {
	return db.listEdges(ctx, "trade_status_transitions")
}

func (db *DB) listEdges(ctx context.Context, table string) ([]StatusEdge, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, from_status_id, to_status_id, note FROM %s ORDER BY id
	`, table))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var edges []StatusEdge
	for rows.Next() {
		var e StatusEdge
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Note); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return edges, nil
}

// GetListingStatusByName returns a listing status by its internal name.
func (db *DB) GetListingStatusByName(ctx context.Context, name string) (*ListingStatus, error) {
	var s ListingStatus
	err := db.QueryRowContext(ctx, `
		SELECT id, name, display_name, purchasable FROM listing_statuses WHERE name = ?
	`, name).Scan(&s.ID, &s.Name, &s.DisplayName, &s.Purchasable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying listing status: %w", err)
	}
	return &s, nil
}

// GetTradeStatusByName returns a trade status by its internal name.
func (db *DB) GetTradeStatusByName(ctx context.Context, name string) (*TradeStatus, error) {
	var s TradeStatus
	err := db.QueryRowContext(ctx, `
		SELECT id, name, display_name FROM trade_statuses WHERE name = ?
	`, name).Scan(&s.ID, &s.Name, &s.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trade status: %w", err)
	}
	return &s, nil
}

// AddListingEdge inserts a listing transition edge between two named statuses.
// Adding and removing edges is an administrative operation; callers must
// invalidate the in-memory status graph afterwards.
func (db *DB) AddListingEdge(ctx context.Context, fromName, toName, note string) error {
	return db.addEdge(ctx, "listing_status_transitions", "listing_statuses", fromName, toName, note)
}

// AddTradeEdge inserts a trade transition edge between two named statuses.
func (db *DB) AddTradeEdge(ctx context.Context, fromName, toName, note string) error {
	return db.addEdge(ctx, "trade_status_transitions", "trade_statuses", fromName, toName, note)
}

func (db *DB) addEdge(ctx context.Context, edgeTable, statusTable, fromName, toName, note string) error {
	var noteVal sql.NullString
	if note != "" {
		noteVal = sql.NullString{String: note, Valid: true}
	}

	result, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (from_status_id, to_status_id, note)
		SELECT f.id, t.id, ?
		FROM %s f, %s t
		WHERE f.name = ? AND t.name = ?
	`, edgeTable, statusTable, statusTable), noteVal, fromName, toName)
	if err != nil {
		if isUniqueViolation(err) {
			return nil // edge already configured
		}
		return fmt.Errorf("inserting edge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStatusNotFound
	}
	return nil
}

// RemoveListingEdge deletes a listing transition edge between two named statuses.
func (db *DB) RemoveListingEdge(ctx context.Context, fromName, toName string) error {
	return db.removeEdge(ctx, "listing_status_transitions", "listing_statuses", fromName, toName)
}

// RemoveTradeEdge deletes a trade transition edge between two named statuses.
func (db *DB) RemoveTradeEdge(ctx context.Context, fromName, toName string) error {
	return db.removeEdge(ctx, "trade_status_transitions", "trade_statuses", fromName, toName)
}

func (db *DB) removeEdge(ctx context.Context, edgeTable, statusTable, fromName, toName string) error {
	result, err := db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE from_status_id = (SELECT id FROM %s WHERE name = ?)
		  AND to_status_id = (SELECT id FROM %s WHERE name = ?)
	`, edgeTable, statusTable, statusTable), fromName, toName)
	if err != nil {
		return fmt.Errorf("deleting edge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEdgeNotFound
	}
	return nil
}
