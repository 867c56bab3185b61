package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buildtall-systems/fleabot/internal/db"
)

// BrowseCmd lists items currently for sale.
func BrowseCmd(ctx context.Context, database *db.DB) Result {
	listings, err := database.ListOpenListings(ctx, 20)
	if err != nil {
		return Result{Error: fmt.Errorf("listing items: %w", err)}
	}

	if len(listings) == 0 {
		return Result{Message: "Nothing for sale right now. Check back later!"}
	}

	var sb strings.Builder
	sb.WriteString("For sale:\n")
	for _, l := range listings {
		fmt.Fprintf(&sb, "#%d  %s - %d sats\n", l.ID, l.Title, l.Price)
	}
	sb.WriteString("\nSend 'item <id>' for details or 'buy <id>' to purchase.")
	return Result{Message: sb.String()}
}

// ItemCmd shows details for one listing.
func ItemCmd(ctx context.Context, database *db.DB, args []string) Result {
	if len(args) != 1 {
		return Result{Error: errors.New("usage: item <id>")}
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Result{Error: fmt.Errorf("invalid listing id: %s", args[0])}
	}

	listing, err := database.GetListingByID(ctx, id)
	if errors.Is(err, db.ErrListingNotFound) {
		return Result{Error: fmt.Errorf("listing #%d not found", id)}
	}
	if err != nil {
		return Result{Error: fmt.Errorf("loading listing: %w", err)}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d  %s\n", listing.ID, listing.Title)
	fmt.Fprintf(&sb, "Price: %d sats\n", listing.Price)
	fmt.Fprintf(&sb, "Status: %s\n", listing.StatusDisplay)
	if listing.Description.Valid {
		fmt.Fprintf(&sb, "\n%s\n", listing.Description.String)
	}
	if listing.Purchasable {
		fmt.Fprintf(&sb, "\nSend 'buy %d' to purchase.", listing.ID)
	}
	return Result{Message: sb.String()}
}

// SellCmd creates a new listing for the sender.
// Usage: sell <price> <title...>
func SellCmd(ctx context.Context, database *db.DB, senderNpub string, args []string) Result {
	if len(args) < 2 {
		return Result{Error: errors.New("usage: sell <price> <title>")}
	}

	price, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || price <= 0 {
		return Result{Error: fmt.Errorf("invalid price: %s (must be a positive number of sats)", args[0])}
	}

	title := strings.Join(args[1:], " ")

	user, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	listing, err := database.CreateListing(ctx, user.ID, title, "", price)
	if err != nil {
		return Result{Error: fmt.Errorf("creating listing: %w", err)}
	}

	return Result{Message: fmt.Sprintf("Listed #%d: %s for %d sats.", listing.ID, listing.Title, listing.Price)}
}

// MineCmd shows the sender's own listings.
func MineCmd(ctx context.Context, database *db.DB, senderNpub string) Result {
	user, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	listings, err := database.ListListingsBySeller(ctx, user.ID)
	if err != nil {
		return Result{Error: fmt.Errorf("listing items: %w", err)}
	}

	if len(listings) == 0 {
		return Result{Message: "You have no listings. Send 'sell <price> <title>' to create one."}
	}

	var sb strings.Builder
	sb.WriteString("Your listings:\n")
	for _, l := range listings {
		fmt.Fprintf(&sb, "#%d  %s - %d sats (%s)\n", l.ID, l.Title, l.Price, l.StatusDisplay)
	}
	return Result{Message: sb.String()}
}

// AddressCmd stores the sender's default shipping address.
// Usage: address <postal> <region> <city> <street...>
func AddressCmd(ctx context.Context, database *db.DB, senderNpub string, args []string) Result {
	if len(args) < 4 {
		return Result{Error: errors.New("usage: address <postal> <region> <city> <street>")}
	}

	user, err := database.EnsureUser(ctx, senderNpub)
	if err != nil {
		return Result{Error: fmt.Errorf("registering user: %w", err)}
	}

	recipient := senderNpub
	if user.DisplayName.Valid {
		recipient = user.DisplayName.String
	}

	addr := db.Address{
		RecipientName: recipient,
		PostalCode:    args[0],
		Region:        args[1],
		City:          args[2],
		Street:        strings.Join(args[3:], " "),
	}

	saved, err := database.SetDefaultAddress(ctx, user.ID, addr)
	if err != nil {
		return Result{Error: fmt.Errorf("saving address: %w", err)}
	}

	return Result{Message: fmt.Sprintf("Shipping address saved: %s %s %s %s", saved.PostalCode, saved.Region, saved.City, saved.Street)}
}

// HelpCmd returns the command reference.
func HelpCmd(isAdmin bool) Result {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	sb.WriteString("  browse - items for sale\n")
	sb.WriteString("  item <id> - listing details\n")
	sb.WriteString("  sell <price> <title> - list an item\n")
	sb.WriteString("  mine - your listings\n")
	sb.WriteString("  buy <id> - purchase an item\n")
	sb.WriteString("  orders - your purchases and sales\n")
	sb.WriteString("  ship <trade> - advance a trade's shipment status\n")
	sb.WriteString("  address <postal> <region> <city> <street> - set shipping address\n")
	sb.WriteString("  help - this message\n")

	if isAdmin {
		sb.WriteString("\nAdmin commands:\n")
		sb.WriteString("  states - show status graphs\n")
		sb.WriteString("  edge add|rm listing|trade <FROM> <TO> - edit transitions\n")
		sb.WriteString("  stats - sales totals\n")
	}

	return Result{Message: sb.String()}
}
