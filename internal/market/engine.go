package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

// Engine is the marketplace transaction engine: it owns the buy flow and
// the shipment progression. Concurrency safety is delegated entirely to the
// storage layer's conditional writes; the engine holds no locks of its own,
// so any number of workers or processes can run against the same store.
type Engine struct {
	db         *db.DB
	graph      *statusgraph.Graph
	feeRateBps int
	timeout    time.Duration
}

func NewEngine(database *db.DB, graph *statusgraph.Graph, feeRateBps int, timeout time.Duration) *Engine {
	return &Engine{
		db:         database,
		graph:      graph,
		feeRateBps: feeRateBps,
		timeout:    timeout,
	}
}

// opCtx bounds every engine operation so no storage call can block
// indefinitely.
func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// Purchase executes the full buy flow for a listing as one logically atomic
// unit. addressID selects the buyer's shipping address; zero means their
// default address.
//
// Exactly one Purchase can ever succeed per listing: the conditional
// listing update and the trades table's unique listing constraint enforce
// it independently, so a bug in one layer is caught by the other.
func (e *Engine) Purchase(ctx context.Context, listingID, buyerID, addressID int64) (*db.Trade, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	listing, err := e.db.GetListingByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, db.ErrListingNotFound) {
			return nil, fmt.Errorf("%w: listing %d", ErrNotFound, listingID)
		}
		return nil, e.storageErr("reading listing", err)
	}

	if !listing.Purchasable {
		return nil, fmt.Errorf("%w: listing %d is %s", ErrNotPurchasable, listingID, listing.StatusName)
	}
	if buyerID == listing.SellerID {
		return nil, fmt.Errorf("%w: cannot buy own listing", ErrNotPurchasable)
	}

	address, err := e.resolveAddress(ctx, buyerID, addressID)
	if err != nil {
		return nil, err
	}

	fee, income := Split(listing.Price, e.feeRateBps)
	if fee < 0 || income < 0 || fee+income != listing.Price {
		return nil, fmt.Errorf("%w: fee split %d+%d != %d", ErrInvariant, fee, income, listing.Price)
	}

	next, ok, err := e.graph.NextListingStatus(ctx, listing.StatusID)
	if err != nil {
		return nil, e.storageErr("resolving listing transition", err)
	}
	if !ok {
		// Purchasable status with no configured successor means the
		// listing graph is broken.
		return nil, fmt.Errorf("%w: no transition out of %s", ErrInvariant, listing.StatusName)
	}

	start, err := e.graph.TradeStartStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	trade, err := e.db.PurchaseListing(ctx, db.PurchaseParams{
		ListingID:         listingID,
		ExpectedStatusID:  listing.StatusID,
		SoldStatusID:      next.ID,
		BuyerID:           buyerID,
		ShippingAddressID: address.ID,
		PurchasePrice:     listing.Price,
		PlatformFee:       fee,
		SellerIncome:      income,
		StartStatusID:     start.ID,
	})
	if err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: listing %d already reserved", ErrConflict, listingID)
		}
		if errors.Is(err, db.ErrDuplicateTrade) {
			// The backstop fired without the listing update failing
			// first. Still a conflict for the caller, but it means the
			// conditional update was bypassed somewhere.
			log.Printf("invariant: duplicate trade for listing %d with listing update intact", listingID)
			return nil, fmt.Errorf("%w: trade already exists for listing %d", ErrConflict, listingID)
		}
		return nil, e.storageErr("executing purchase", err)
	}

	return trade, nil
}

// Advance moves a trade one step forward along the trade status chain and
// returns the new status. Advancing a finished trade returns
// ErrNoFurtherState, stably, on every call.
func (e *Engine) Advance(ctx context.Context, tradeID int64) (statusgraph.Status, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	trade, err := e.db.GetTradeByID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, db.ErrTradeNotFound) {
			return statusgraph.Status{}, fmt.Errorf("%w: trade %d", ErrNotFound, tradeID)
		}
		return statusgraph.Status{}, e.storageErr("reading trade", err)
	}

	next, ok, err := e.graph.NextTradeStatus(ctx, trade.StatusID)
	if err != nil {
		return statusgraph.Status{}, e.storageErr("resolving trade transition", err)
	}
	if !ok {
		return statusgraph.Status{}, fmt.Errorf("%w: trade %d is %s", ErrNoFurtherState, tradeID, trade.StatusName)
	}

	if err := e.db.AdvanceTradeStatus(ctx, tradeID, trade.StatusID, next.ID); err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return statusgraph.Status{}, fmt.Errorf("%w: trade %d advanced concurrently", ErrConflict, tradeID)
		}
		if errors.Is(err, db.ErrTradeNotFound) {
			return statusgraph.Status{}, fmt.Errorf("%w: trade %d", ErrNotFound, tradeID)
		}
		return statusgraph.Status{}, e.storageErr("advancing trade", err)
	}

	return next, nil
}

// GetListing returns a listing snapshot.
func (e *Engine) GetListing(ctx context.Context, listingID int64) (*db.Listing, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	listing, err := e.db.GetListingByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, db.ErrListingNotFound) {
			return nil, fmt.Errorf("%w: listing %d", ErrNotFound, listingID)
		}
		return nil, e.storageErr("reading listing", err)
	}
	return listing, nil
}

// GetTrade returns a trade snapshot.
func (e *Engine) GetTrade(ctx context.Context, tradeID int64) (*db.TradeWithListing, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	trade, err := e.db.GetTradeByID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, db.ErrTradeNotFound) {
			return nil, fmt.Errorf("%w: trade %d", ErrNotFound, tradeID)
		}
		return nil, e.storageErr("reading trade", err)
	}
	return trade, nil
}

// OrderedTradeStatuses returns the trade status chain in progression order,
// for rendering progress views.
func (e *Engine) OrderedTradeStatuses(ctx context.Context) ([]statusgraph.Status, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()

	ordered, err := e.graph.OrderedTradeStatuses(ctx)
	if err != nil {
		return nil, e.storageErr("loading trade statuses", err)
	}
	return ordered, nil
}

func (e *Engine) resolveAddress(ctx context.Context, buyerID, addressID int64) (*db.Address, error) {
	var (
		address *db.Address
		err     error
	)
	if addressID == 0 {
		address, err = e.db.GetDefaultAddress(ctx, buyerID)
	} else {
		address, err = e.db.GetAddressByID(ctx, addressID)
	}
	if err != nil {
		if errors.Is(err, db.ErrAddressNotFound) {
			return nil, ErrNoShippingAddress
		}
		return nil, e.storageErr("resolving address", err)
	}
	if address.UserID != buyerID {
		return nil, fmt.Errorf("%w: address %d does not belong to buyer", ErrNoShippingAddress, addressID)
	}
	return address, nil
}

// storageErr classifies a storage failure: timeouts and lock contention are
// retryable (ErrUnavailable), everything else propagates wrapped.
func (e *Engine) storageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || db.IsBusy(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
