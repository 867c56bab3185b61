package commands

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/market"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

const (
	sellerNpub = "npub1seller000000000000000000000000000000000000000000000000000000"
	buyerNpub  = "npub1buyer0000000000000000000000000000000000000000000000000000000"
	adminNpub  = "npub1admin0000000000000000000000000000000000000000000000000000000"
)

type commandFixture struct {
	db     *db.DB
	engine *market.Engine
	graph  *statusgraph.Graph
	cfg    ExecuteConfig
}

func setupCommands(t *testing.T) *commandFixture {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	database := &db.DB{DB: sqlDB}
	if err := database.Migrate(); err != nil {
		_ = sqlDB.Close()
		t.Fatalf("migrating test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	graph := statusgraph.New(database)
	engine := market.NewEngine(database, graph, 1000, 5*time.Second)

	return &commandFixture{
		db:     database,
		engine: engine,
		graph:  graph,
		cfg:    ExecuteConfig{Admins: []string{adminNpub}},
	}
}

func (f *commandFixture) run(t *testing.T, sender, content string) Result {
	t.Helper()
	cmd := Parse(content)
	if cmd == nil {
		t.Fatalf("Parse(%q) returned nil", content)
	}
	return Execute(context.Background(), f.db, f.engine, f.graph, cmd, sender, f.cfg)
}

func (f *commandFixture) mustRun(t *testing.T, sender, content string) Result {
	t.Helper()
	result := f.run(t, sender, content)
	if result.Error != nil {
		t.Fatalf("%q failed: %v", content, result.Error)
	}
	return result
}

func TestSellBrowseItemFlow(t *testing.T) {
	f := setupCommands(t)

	result := f.mustRun(t, sellerNpub, "sell 10000 Vintage camera")
	if !strings.Contains(result.Message, "Vintage camera") {
		t.Errorf("sell response missing title: %q", result.Message)
	}

	result = f.mustRun(t, buyerNpub, "browse")
	if !strings.Contains(result.Message, "Vintage camera - 10000 sats") {
		t.Errorf("browse missing listing line: %q", result.Message)
	}

	result = f.mustRun(t, buyerNpub, "item 1")
	if !strings.Contains(result.Message, "For sale") {
		t.Errorf("item missing status: %q", result.Message)
	}
	if !strings.Contains(result.Message, "buy 1") {
		t.Errorf("purchasable item should suggest buying: %q", result.Message)
	}

	result = f.mustRun(t, sellerNpub, "mine")
	if !strings.Contains(result.Message, "Vintage camera") {
		t.Errorf("mine missing listing: %q", result.Message)
	}

	if r := f.run(t, sellerNpub, "sell abc title"); r.Error == nil {
		t.Error("sell with bad price should fail")
	}
	if r := f.run(t, sellerNpub, "sell -5 title"); r.Error == nil {
		t.Error("sell with negative price should fail")
	}
	if r := f.run(t, buyerNpub, "item 999"); r.Error == nil {
		t.Error("item for unknown listing should fail")
	}
}

func TestBuyShipFlow(t *testing.T) {
	f := setupCommands(t)

	f.mustRun(t, sellerNpub, "sell 10000 Vintage camera")

	// A buyer without a shipping address is turned away first.
	if r := f.run(t, buyerNpub, "buy 1"); r.Error == nil {
		t.Error("buy without address should fail")
	}

	f.mustRun(t, buyerNpub, "address 100-0001 Tokyo Chiyoda 1-1-1")

	result := f.mustRun(t, buyerNpub, "buy 1")
	if !strings.Contains(result.Message, "Purchased!") {
		t.Errorf("buy response: %q", result.Message)
	}
	if len(result.Notices) != 1 {
		t.Fatalf("expected 1 seller notice, got %d", len(result.Notices))
	}
	if result.Notices[0].RecipientNpub != sellerNpub {
		t.Errorf("notice recipient = %s, want seller", result.Notices[0].RecipientNpub)
	}
	if !strings.Contains(result.Notices[0].Message, "9000 sats") {
		t.Errorf("seller notice should name the payout: %q", result.Notices[0].Message)
	}

	// Sold items cannot be bought again.
	if r := f.run(t, adminNpub, "buy 1"); r.Error == nil {
		t.Error("buying a sold listing should fail")
	}

	// Both sides see the trade; the buyer's current state is bracketed.
	result = f.mustRun(t, buyerNpub, "orders")
	if !strings.Contains(result.Message, "bought") {
		t.Errorf("buyer orders should say bought: %q", result.Message)
	}
	if !strings.Contains(result.Message, "[Waiting for shipment]") {
		t.Errorf("orders should bracket the current status: %q", result.Message)
	}
	result = f.mustRun(t, sellerNpub, "orders")
	if !strings.Contains(result.Message, "sold") {
		t.Errorf("seller orders should say sold: %q", result.Message)
	}

	// Outsiders cannot advance the trade; the seller can, and the buyer is
	// notified.
	if r := f.run(t, "npub1outsider00000000000000000000000000000000000000000000000000000", "ship 1"); r.Error == nil {
		t.Error("outsider ship should fail")
	}
	result = f.mustRun(t, sellerNpub, "ship 1")
	if !strings.Contains(result.Message, "Shipped") {
		t.Errorf("ship response: %q", result.Message)
	}
	if len(result.Notices) != 1 || result.Notices[0].RecipientNpub != buyerNpub {
		t.Errorf("counterparty notice missing or wrong: %+v", result.Notices)
	}

	// Drive the trade to completion; further ship is a friendly no-op, not
	// an error.
	for i := 0; i < 4; i++ {
		f.mustRun(t, buyerNpub, "ship 1")
	}
	result = f.mustRun(t, buyerNpub, "ship 1")
	if !strings.Contains(result.Message, "already complete") {
		t.Errorf("ship past end: %q", result.Message)
	}
}

func TestAdminCommands(t *testing.T) {
	f := setupCommands(t)

	result := f.mustRun(t, adminNpub, "states")
	if !strings.Contains(result.Message, "ON_SALE") || !strings.Contains(result.Message, "(start)") {
		t.Errorf("states output: %q", result.Message)
	}

	result = f.mustRun(t, adminNpub, "edge add trade WAITING_SHIPPING COMPLETED shortcut")
	if !strings.Contains(result.Message, "Graph reloaded") {
		t.Errorf("edge add response: %q", result.Message)
	}
	result = f.mustRun(t, adminNpub, "edge rm trade waiting_shipping completed")
	if !strings.Contains(result.Message, "Graph reloaded") {
		t.Errorf("edge rm response: %q", result.Message)
	}

	if r := f.run(t, adminNpub, "edge rm trade WAITING_SHIPPING COMPLETED"); r.Error == nil {
		t.Error("removing a missing edge should fail")
	}
	if r := f.run(t, adminNpub, "edge add trade NOPE COMPLETED"); r.Error == nil {
		t.Error("adding an edge with unknown status should fail")
	}

	// One sale, then totals.
	f.mustRun(t, sellerNpub, "sell 10000 Vintage camera")
	f.mustRun(t, buyerNpub, "address 100-0001 Tokyo Chiyoda 1-1-1")
	f.mustRun(t, buyerNpub, "buy 1")

	result = f.mustRun(t, adminNpub, "stats")
	for _, want := range []string{"Trades: 1", "Gross volume: 10000", "Platform fees: 1000", "Seller payouts: 9000"} {
		if !strings.Contains(result.Message, want) {
			t.Errorf("stats missing %q: %q", want, result.Message)
		}
	}
}

func TestHelp(t *testing.T) {
	f := setupCommands(t)

	result := f.mustRun(t, buyerNpub, "help")
	if !strings.Contains(result.Message, "browse") {
		t.Errorf("help output: %q", result.Message)
	}
	if strings.Contains(result.Message, "Admin commands") {
		t.Error("non-admin help should not list admin commands")
	}

	result = f.mustRun(t, adminNpub, "help")
	if !strings.Contains(result.Message, "Admin commands") {
		t.Error("admin help should list admin commands")
	}

	// Unknown commands fall back to help.
	result = f.mustRun(t, buyerNpub, "frobnicate")
	if !strings.Contains(result.Message, "Commands:") {
		t.Errorf("unknown command should return help: %q", result.Message)
	}
}
