package commands

import (
	"context"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/market"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

// Notice is a DM the run loop should deliver to someone other than the
// sender, such as telling a seller their item sold.
type Notice struct {
	RecipientNpub string
	Message       string
}

// Result holds the response from a command execution.
type Result struct {
	Message string
	Error   error
	Notices []Notice
}

// ExecuteConfig holds configuration needed for command execution.
type ExecuteConfig struct {
	Admins []string
}

// Execute runs the command and returns a result.
// senderNpub is the sender's public key in npub format.
func Execute(ctx context.Context, database *db.DB, engine *market.Engine, graph *statusgraph.Graph, cmd *Command, senderNpub string, cfg ExecuteConfig) Result {
	isAdmin := IsAdmin(senderNpub, cfg.Admins)

	switch cmd.Name {
	// Marketplace commands
	case CmdBrowse:
		return BrowseCmd(ctx, database)

	case CmdItem:
		return ItemCmd(ctx, database, cmd.Args)

	case CmdSell:
		return SellCmd(ctx, database, senderNpub, cmd.Args)

	case CmdMine:
		return MineCmd(ctx, database, senderNpub)

	case CmdAddress:
		return AddressCmd(ctx, database, senderNpub, cmd.Args)

	case CmdBuy:
		return BuyCmd(ctx, database, engine, senderNpub, cmd.Args)

	case CmdOrders:
		return OrdersCmd(ctx, database, engine, senderNpub)

	case CmdShip:
		return ShipCmd(ctx, database, engine, senderNpub, cmd.Args, isAdmin)

	case CmdHelp:
		return HelpCmd(isAdmin)

	// Admin commands
	case CmdStates:
		return StatesCmd(ctx, database)

	case CmdEdge:
		return EdgeCmd(ctx, database, graph, cmd.Args)

	case CmdStats:
		return StatsCmd(ctx, database)

	default:
		return HelpCmd(isAdmin)
	}
}
