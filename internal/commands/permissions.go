package commands

import "fmt"

// IsAdmin checks if the given npub is in the admin list.
func IsAdmin(npub string, admins []string) bool {
	for _, admin := range admins {
		if admin == npub {
			return true
		}
	}
	return false
}

// CanExecute returns an error if the sender lacks permission to run the
// command. The marketplace is open: anyone can browse, list, and buy.
// Admin commands are gated on the configured admin list.
func CanExecute(cmd *Command, senderNpub string, admins []string) error {
	if cmd.IsAdminCommand() && !IsAdmin(senderNpub, admins) {
		return fmt.Errorf("admin command requires admin privileges")
	}
	return nil
}
