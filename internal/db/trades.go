package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrTradeNotFound indicates the trade does not exist.
var ErrTradeNotFound = errors.New("trade not found")

// ErrDuplicateTrade indicates a trade already exists for the listing. This
// is the unique-constraint backstop behind the conditional listing update;
// hitting it means the listing update was bypassed somewhere.
var ErrDuplicateTrade = errors.New("trade already exists for listing")

// Trade is the financial record of one purchase. Price, fee and income are
// frozen at creation and never recomputed.
type Trade struct {
	ID                int64
	ListingID         int64
	BuyerID           int64
	StatusID          int64
	StatusName        string
	StatusDisplay     string
	ShippingAddressID int64
	PurchasePrice     int64
	PlatformFee       int64
	SellerIncome      int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TradeWithListing carries the listing title and seller alongside a trade,
// for views and counterparty notifications.
type TradeWithListing struct {
	Trade
	ListingTitle string
	SellerID     int64
}

// PurchaseParams carries the values recorded when a listing is purchased.
type PurchaseParams struct {
	ListingID         int64
	ExpectedStatusID  int64 // listing status observed by the caller
	SoldStatusID      int64 // listing status to transition into
	BuyerID           int64
	ShippingAddressID int64
	PurchasePrice     int64
	PlatformFee       int64
	SellerIncome      int64
	StartStatusID     int64 // trade chain start status
}

// PurchaseListing executes the buy flow's storage unit atomically: the
// conditional listing status update and the trade insert either both commit
// or neither does. Returns ErrStaleStatus if another buyer already moved the
// listing, ErrDuplicateTrade if a trade for the listing already exists.
func (db *DB) PurchaseListing(ctx context.Context, p PurchaseParams) (*Trade, error) {
	var tradeID int64

	err := withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, `
			UPDATE listings SET status_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status_id = ?
		`, p.SoldStatusID, p.ListingID, p.ExpectedStatusID)
		if err != nil {
			return fmt.Errorf("reserving listing: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return ErrStaleStatus
		}

		result, err = tx.ExecContext(ctx, `
			INSERT INTO trades (listing_id, buyer_id, status_id, shipping_address_id,
			                    purchase_price, platform_fee, seller_income)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ListingID, p.BuyerID, p.StartStatusID, p.ShippingAddressID,
			p.PurchasePrice, p.PlatformFee, p.SellerIncome)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateTrade
			}
			return fmt.Errorf("creating trade: %w", err)
		}

		tradeID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting trade id: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	trade, err := db.GetTradeByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return &trade.Trade, nil
}

// GetTradeByID returns a trade snapshot with its listing title and seller.
func (db *DB) GetTradeByID(ctx context.Context, id int64) (*TradeWithListing, error) {
	var t TradeWithListing
	err := db.QueryRowContext(ctx, `
		SELECT t.id, t.listing_id, t.buyer_id, t.status_id, s.name, s.display_name,
		       t.shipping_address_id, t.purchase_price, t.platform_fee, t.seller_income,
		       t.created_at, t.updated_at, l.title, l.seller_id
		FROM trades t
		JOIN trade_statuses s ON t.status_id = s.id
		JOIN listings l ON t.listing_id = l.id
		WHERE t.id = ?
	`, id).Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.StatusID, &t.StatusName, &t.StatusDisplay,
		&t.ShippingAddressID, &t.PurchasePrice, &t.PlatformFee, &t.SellerIncome,
		&t.CreatedAt, &t.UpdatedAt, &t.ListingTitle, &t.SellerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trade: %w", err)
	}
	return &t, nil
}

// GetTradeByListingID returns the trade for a listing, if one exists.
func (db *DB) GetTradeByListingID(ctx context.Context, listingID int64) (*TradeWithListing, error) {
	var id int64
	err := db.QueryRowContext(ctx, `
		SELECT id FROM trades WHERE listing_id = ?
	`, listingID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trade by listing: %w", err)
	}
	return db.GetTradeByID(ctx, id)
}

// ListTradesForUser returns trades where the user is buyer or seller,
// newest first.
func (db *DB) ListTradesForUser(ctx context.Context, userID int64) ([]TradeWithListing, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.listing_id, t.buyer_id, t.status_id, s.name, s.display_name,
		       t.shipping_address_id, t.purchase_price, t.platform_fee, t.seller_income,
		       t.created_at, t.updated_at, l.title, l.seller_id
		FROM trades t
		JOIN trade_statuses s ON t.status_id = s.id
		JOIN listings l ON t.listing_id = l.id
		WHERE t.buyer_id = ? OR l.seller_id = ?
		ORDER BY t.created_at DESC, t.id DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []TradeWithListing
	for rows.Next() {
		var t TradeWithListing
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.StatusID, &t.StatusName, &t.StatusDisplay,
			&t.ShippingAddressID, &t.PurchasePrice, &t.PlatformFee, &t.SellerIncome,
			&t.CreatedAt, &t.UpdatedAt, &t.ListingTitle, &t.SellerID); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trades: %w", err)
	}
	return trades, nil
}

// AdvanceTradeStatus conditionally moves a trade to a new status, with the
// same compare-and-swap contract as TransitionListingStatus. Exactly one of
// two concurrent advances with the same expected status can succeed.
func (db *DB) AdvanceTradeStatus(ctx context.Context, tradeID, expectedStatusID, newStatusID int64) error {
	var result sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = db.ExecContext(ctx, `
			UPDATE trades SET status_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status_id = ?
		`, newStatusID, tradeID, expectedStatusID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("updating trade status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := db.GetTradeByID(ctx, tradeID); errors.Is(err, ErrTradeNotFound) {
			return ErrTradeNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

// SalesSummary aggregates completed volume for the admin stats view.
type SalesSummary struct {
	TradeCount    int64
	GrossVolume   int64
	PlatformFees  int64
	SellerPayouts int64
}

// GetSalesSummary returns totals across all trades.
func (db *DB) GetSalesSummary(ctx context.Context) (*SalesSummary, error) {
	var s SalesSummary
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(purchase_price), 0),
		       COALESCE(SUM(platform_fee), 0),
		       COALESCE(SUM(seller_income), 0)
		FROM trades
	`).Scan(&s.TradeCount, &s.GrossVolume, &s.PlatformFees, &s.SellerPayouts)
	if err != nil {
		return nil, fmt.Errorf("querying sales summary: %w", err)
	}
	return &s, nil
}
