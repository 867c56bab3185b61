package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/market"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

// BuyCmd purchases a listing for the sender, using their default shipping
// address. On success the seller is notified.
func BuyCmd(ctx context.Context, database *db.DB, engine *market.Engine, senderNpub string, args []string) Result {
	if len(args) != 1 {
		return Result{Error: errors.New("usage: buy <id>")}
	}

	listingID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Result{Error: fmt.Errorf("invalid listing id: %s", args[0])}
	}

	buyer, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	trade, err := engine.Purchase(ctx, listingID, buyer.ID, 0)
	if err != nil {
		switch {
		case errors.Is(err, market.ErrNotFound):
			return Result{Error: fmt.Errorf("listing #%d not found", listingID)}
		case errors.Is(err, market.ErrNotPurchasable):
			return Result{Error: fmt.Errorf("listing #%d is not available (it may be sold, or it may be yours)", listingID)}
		case errors.Is(err, market.ErrNoShippingAddress):
			return Result{Error: errors.New("set a shipping address first: address <postal> <region> <city> <street>")}
		case errors.Is(err, market.ErrConflict):
			return Result{Error: fmt.Errorf("too late - listing #%d was just bought by someone else", listingID)}
		case errors.Is(err, market.ErrUnavailable):
			return Result{Error: errors.New("the marketplace is busy, please try again in a moment")}
		default:
			return Result{Error: fmt.Errorf("purchase failed: %w", err)}
		}
	}

	result := Result{
		Message: fmt.Sprintf("Purchased! Trade #%d created for listing #%d at %d sats. The seller has been notified.",
			trade.ID, trade.ListingID, trade.PurchasePrice),
	}

	// Notify the seller their item sold.
	listing, err := database.GetListingByID(ctx, trade.ListingID)
	if err == nil {
		if seller, err := database.GetUserByID(ctx, listing.SellerID); err == nil {
			result.Notices = append(result.Notices, Notice{
				RecipientNpub: seller.Npub,
				Message: fmt.Sprintf("Your listing #%d (%s) sold for %d sats. You'll receive %d sats after the %d sats platform fee. Send 'ship %d' once it's on its way.",
					listing.ID, listing.Title, trade.PurchasePrice, trade.SellerIncome, trade.PlatformFee, trade.ID),
			})
		}
	}

	return result
}

// OrdersCmd shows the sender's trades, as buyer or seller, with a progress
// bar over the ordered trade status chain.
func OrdersCmd(ctx context.Context, database *db.DB, engine *market.Engine, senderNpub string) Result {
	user, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	trades, err := database.ListTradesForUser(ctx, user.ID)
	if err != nil {
		return Result{Error: fmt.Errorf("listing trades: %w", err)}
	}

	if len(trades) == 0 {
		return Result{Message: "No trades yet."}
	}

	ordered, err := engine.OrderedTradeStatuses(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading trade statuses: %w", err)}
	}

	var sb strings.Builder
	sb.WriteString("Your trades:\n")
	for _, t := range trades {
		role := "bought"
		if t.SellerID == user.ID {
			role = "sold"
		}
		fmt.Fprintf(&sb, "#%d  %s (%s, %d sats)\n", t.ID, t.ListingTitle, role, t.PurchasePrice)
		fmt.Fprintf(&sb, "    %s\n", progressBar(ordered, t.StatusName))
	}
	return Result{Message: sb.String()}
}

// progressBar renders the ordered status chain with the current status
// marked, e.g. "Waiting for shipment > [Shipped] > In transit > ...".
func progressBar(ordered []statusgraph.Status, current string) string {
	parts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		if s.Name == current {
			parts = append(parts, "["+s.DisplayName+"]")
		} else {
			parts = append(parts, s.DisplayName)
		}
	}
	return strings.Join(parts, " > ")
}

// ShipCmd advances a trade one step along the shipment pipeline. Only the
// trade's participants (or an admin) may advance it; the counterparty is
// notified of the new status.
func ShipCmd(ctx context.Context, database *db.DB, engine *market.Engine, senderNpub string, args []string, isAdmin bool) Result {
	if len(args) != 1 {
		return Result{Error: errors.New("usage: ship <trade>")}
	}

	tradeID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Result{Error: fmt.Errorf("invalid trade id: %s", args[0])}
	}

	user, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	trade, err := database.GetTradeByID(ctx, tradeID)
	if errors.Is(err, db.ErrTradeNotFound) {
		return Result{Error: fmt.Errorf("trade #%d not found", tradeID)}
	}
	if err != nil {
		return Result{Error: fmt.Errorf("loading trade: %w", err)}
	}

	if !isAdmin && trade.BuyerID != user.ID && trade.SellerID != user.ID {
		return Result{Error: fmt.Errorf("trade #%d is not yours", tradeID)}
	}

	newStatus, err := engine.Advance(ctx, tradeID)
	if err != nil {
		switch {
		case errors.Is(err, market.ErrNoFurtherState):
			return Result{Message: fmt.Sprintf("Trade #%d is already complete.", tradeID)}
		case errors.Is(err, market.ErrConflict):
			return Result{Error: fmt.Errorf("trade #%d was just advanced by someone else - send 'orders' to see its current status", tradeID)}
		case errors.Is(err, market.ErrUnavailable):
			return Result{Error: errors.New("the marketplace is busy, please try again in a moment")}
		default:
			return Result{Error: fmt.Errorf("advancing trade: %w", err)}
		}
	}

	result := Result{
		Message: fmt.Sprintf("Trade #%d is now: %s", tradeID, newStatus.DisplayName),
	}

	// Tell the counterparty.
	counterpartyID := trade.BuyerID
	if user.ID == trade.BuyerID {
		counterpartyID = trade.SellerID
	}
	if counterparty, err := database.GetUserByID(ctx, counterpartyID); err == nil {
		result.Notices = append(result.Notices, Notice{
			RecipientNpub: counterparty.Npub,
			Message:       fmt.Sprintf("Trade #%d (%s) is now: %s", trade.ID, trade.ListingTitle, newStatus.DisplayName),
		})
	}

	return result
}
