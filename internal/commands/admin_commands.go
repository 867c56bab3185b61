package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

// StatesCmd shows both status graphs: every status and every configured
// transition edge.
func StatesCmd(ctx context.Context, database *db.DB) Result {
	listingStatuses, err := database.ListListingStatuses(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading listing statuses: %w", err)}
	}
	listingEdges, err := database.ListListingEdges(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading listing edges: %w", err)}
	}
	tradeStatuses, err := database.ListTradeStatuses(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading trade statuses: %w", err)}
	}
	tradeEdges, err := database.ListTradeEdges(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading trade edges: %w", err)}
	}

	listingNames := make(map[int64]string, len(listingStatuses))
	for _, s := range listingStatuses {
		listingNames[s.ID] = s.Name
	}
	tradeNames := make(map[int64]string, len(tradeStatuses))
	for _, s := range tradeStatuses {
		tradeNames[s.ID] = s.Name
	}

	var sb strings.Builder
	sb.WriteString("Listing statuses:\n")
	for _, s := range listingStatuses {
		flag := ""
		if s.Purchasable {
			flag = " (purchasable)"
		}
		fmt.Fprintf(&sb, "  %s = %s%s\n", s.Name, s.DisplayName, flag)
	}
	sb.WriteString("Listing transitions:\n")
	for _, e := range listingEdges {
		fmt.Fprintf(&sb, "  #%d %s -> %s\n", e.ID, listingNames[e.FromID.Int64], listingNames[e.ToID])
	}

	sb.WriteString("Trade statuses:\n")
	for _, s := range tradeStatuses {
		fmt.Fprintf(&sb, "  %s = %s\n", s.Name, s.DisplayName)
	}
	sb.WriteString("Trade transitions:\n")
	for _, e := range tradeEdges {
		from := "(start)"
		if e.FromID.Valid {
			from = tradeNames[e.FromID.Int64]
		}
		fmt.Fprintf(&sb, "  #%d %s -> %s\n", e.ID, from, tradeNames[e.ToID])
	}

	return Result{Message: sb.String()}
}

// EdgeCmd edits transition edges and invalidates the cached graphs so the
// change takes effect without a restart.
// Usage: edge add|rm listing|trade <FROM> <TO> [note...]
func EdgeCmd(ctx context.Context, database *db.DB, graph *statusgraph.Graph, args []string) Result {
	if len(args) < 4 {
		return Result{Error: errors.New("usage: edge add|rm listing|trade <FROM> <TO> [note]")}
	}

	action, kind := args[0], args[1]
	from, to := strings.ToUpper(args[2]), strings.ToUpper(args[3])
	note := strings.Join(args[4:], " ")

	if kind != "listing" && kind != "trade" {
		return Result{Error: fmt.Errorf("unknown graph: %s (use listing or trade)", kind)}
	}

	var err error
	switch action {
	case "add":
		if kind == "listing" {
			err = database.AddListingEdge(ctx, from, to, note)
		} else {
			err = database.AddTradeEdge(ctx, from, to, note)
		}
	case "rm":
		if kind == "listing" {
			err = database.RemoveListingEdge(ctx, from, to)
		} else {
			err = database.RemoveTradeEdge(ctx, from, to)
		}
	default:
		return Result{Error: fmt.Errorf("unknown action: %s (use add or rm)", action)}
	}

	if errors.Is(err, db.ErrStatusNotFound) {
		return Result{Error: fmt.Errorf("unknown status in %s -> %s", from, to)}
	}
	if errors.Is(err, db.ErrEdgeNotFound) {
		return Result{Error: fmt.Errorf("no edge %s -> %s", from, to)}
	}
	if err != nil {
		return Result{Error: fmt.Errorf("editing edge: %w", err)}
	}

	graph.Invalidate()
	return Result{Message: fmt.Sprintf("Edge %s: %s -> %s. Graph reloaded.", action, from, to)}
}

// StatsCmd shows marketplace sales totals.
func StatsCmd(ctx context.Context, database *db.DB) Result {
	summary, err := database.GetSalesSummary(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("loading sales summary: %w", err)}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trades: %d\n", summary.TradeCount)
	fmt.Fprintf(&sb, "Gross volume: %d sats\n", summary.GrossVolume)
	fmt.Fprintf(&sb, "Platform fees: %d sats\n", summary.PlatformFees)
	fmt.Fprintf(&sb, "Seller payouts: %d sats\n", summary.SellerPayouts)
	return Result{Message: sb.String()}
}
