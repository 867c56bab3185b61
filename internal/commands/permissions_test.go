package commands

import "testing"

func TestIsAdmin(t *testing.T) {
	admins := []string{"npub1admin", "npub1other"}

	if !IsAdmin("npub1admin", admins) {
		t.Error("listed npub should be admin")
	}
	if IsAdmin("npub1stranger", admins) {
		t.Error("unlisted npub should not be admin")
	}
	if IsAdmin("npub1admin", nil) {
		t.Error("empty admin list should grant nothing")
	}
}

func TestCanExecute(t *testing.T) {
	admins := []string{"npub1admin"}

	// Marketplace commands are open to everyone.
	if err := CanExecute(&Command{Name: CmdBuy}, "npub1stranger", admins); err != nil {
		t.Errorf("buy should be open: %v", err)
	}
	if err := CanExecute(&Command{Name: CmdSell}, "npub1stranger", admins); err != nil {
		t.Errorf("sell should be open: %v", err)
	}

	// Admin commands are gated.
	if err := CanExecute(&Command{Name: CmdStats}, "npub1stranger", admins); err == nil {
		t.Error("stats should require admin")
	}
	if err := CanExecute(&Command{Name: CmdStats}, "npub1admin", admins); err != nil {
		t.Errorf("admin should run stats: %v", err)
	}
	if err := CanExecute(&Command{Name: CmdEdge}, "npub1admin", admins); err != nil {
		t.Errorf("admin should run edge: %v", err)
	}
}
