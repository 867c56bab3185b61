package commands

import (
	"strings"
)

// Command represents a parsed user command.
type Command struct {
	Name string   // Command name (lowercase)
	Args []string // Arguments after the command name
}

// Known command names
const (
	// Marketplace commands
	CmdHelp    = "help"
	CmdBrowse  = "browse"
	CmdItem    = "item"
	CmdSell    = "sell"
	CmdMine    = "mine"
	CmdAddress = "address"
	CmdBuy     = "buy"
	CmdOrders  = "orders"
	CmdShip    = "ship"

	// Admin commands
	CmdStates = "states"
	CmdEdge   = "edge"
	CmdStats  = "stats"
)

// Parse extracts a command from message content.
// Returns nil if the message is empty or contains only whitespace.
func Parse(content string) *Command {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	parts := strings.Fields(content)
	if len(parts) == 0 {
		return nil
	}

	return &Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// IsMarketCommand returns true if the command is available to everyone.
func (c *Command) IsMarketCommand() bool {
	switch c.Name {
	case CmdHelp, CmdBrowse, CmdItem, CmdSell, CmdMine, CmdAddress, CmdBuy, CmdOrders, CmdShip:
		return true
	default:
		return false
	}
}

// IsAdminCommand returns true if the command requires admin privileges.
func (c *Command) IsAdminCommand() bool {
	switch c.Name {
	case CmdStates, CmdEdge, CmdStats:
		return true
	default:
		return false
	}
}

// IsValid returns true if the command name is recognized.
func (c *Command) IsValid() bool {
	return c.IsMarketCommand() || c.IsAdminCommand()
}
