package market

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

type engineFixture struct {
	db      *db.DB
	engine  *Engine
	seller  *db.User
	buyer   *db.User
	listing *db.Listing
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

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
	engine := NewEngine(database, graph, 1000, 5*time.Second)

	seller, err := database.EnsureUser(ctx, "npub1seller000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("creating seller: %v", err)
	}
	buyer, err := database.EnsureUser(ctx, "npub1buyer0000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("creating buyer: %v", err)
	}
	if _, err := database.SetDefaultAddress(ctx, buyer.ID, db.Address{
		RecipientName: "Buyer",
		PostalCode:    "100-0001",
		Region:        "Tokyo",
		City:          "Chiyoda",
		Street:        "1-1-1",
	}); err != nil {
		t.Fatalf("creating address: %v", err)
	}

	listing, err := database.CreateListing(ctx, seller.ID, "Vintage camera", "", 10000)
	if err != nil {
		t.Fatalf("creating listing: %v", err)
	}

	return &engineFixture{db: database, engine: engine, seller: seller, buyer: buyer, listing: listing}
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	trade, err := f.engine.Purchase(ctx, f.listing.ID, f.buyer.ID, 0)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if trade.PurchasePrice != 10000 || trade.PlatformFee != 1000 || trade.SellerIncome != 9000 {
		t.Errorf("split = %d/%d/%d, want 10000/1000/9000",
			trade.PurchasePrice, trade.PlatformFee, trade.SellerIncome)
	}
	if trade.StatusName != statusgraph.TradeWaitingShipping {
		t.Errorf("trade status = %s, want %s", trade.StatusName, statusgraph.TradeWaitingShipping)
	}

	listing, err := f.engine.GetListing(ctx, f.listing.ID)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.StatusName != statusgraph.ListingSoldOut {
		t.Errorf("listing status = %s, want %s", listing.StatusName, statusgraph.ListingSoldOut)
	}

	// The listing is no longer purchasable; a later buyer is rejected on
	// the snapshot read, before any write.
	other, err := f.db.EnsureUser(ctx, "npub1other0000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("creating second buyer: %v", err)
	}
	_, err = f.engine.Purchase(ctx, f.listing.ID, other.ID, 0)
	if !errors.Is(err, ErrNotPurchasable) {
		t.Errorf("expected ErrNotPurchasable, got %v", err)
	}
}

func TestPurchaseRejections(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	_, err := f.engine.Purchase(ctx, 999, f.buyer.ID, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown listing: expected ErrNotFound, got %v", err)
	}

	_, err = f.engine.Purchase(ctx, f.listing.ID, f.seller.ID, 0)
	if !errors.Is(err, ErrNotPurchasable) {
		t.Errorf("self-purchase: expected ErrNotPurchasable, got %v", err)
	}

	noAddress, err := f.db.EnsureUser(ctx, "npub1noaddr000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("creating buyer: %v", err)
	}
	_, err = f.engine.Purchase(ctx, f.listing.ID, noAddress.ID, 0)
	if !errors.Is(err, ErrNoShippingAddress) {
		t.Errorf("no address: expected ErrNoShippingAddress, got %v", err)
	}

	// A rejected purchase must leave the listing untouched.
	listing, err := f.engine.GetListing(ctx, f.listing.ID)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.StatusName != statusgraph.ListingOnSale {
		t.Errorf("listing status = %s, want %s", listing.StatusName, statusgraph.ListingOnSale)
	}
}

func TestPurchaseForeignAddress(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	// The seller's own address must not be usable by the buyer.
	sellerAddr, err := f.db.SetDefaultAddress(ctx, f.seller.ID, db.Address{
		RecipientName: "Seller",
		PostalCode:    "530-0001",
		Region:        "Osaka",
		City:          "Kita",
		Street:        "2-2-2",
	})
	if err != nil {
		t.Fatalf("creating seller address: %v", err)
	}

	_, err = f.engine.Purchase(ctx, f.listing.ID, f.buyer.ID, sellerAddr.ID)
	if !errors.Is(err, ErrNoShippingAddress) {
		t.Errorf("foreign address: expected ErrNoShippingAddress, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	trade, err := f.engine.Purchase(ctx, f.listing.ID, f.buyer.ID, 0)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	want := []string{
		statusgraph.TradeShipped,
		statusgraph.TradeInTransit,
		statusgraph.TradeOutForDelivery,
		statusgraph.TradeDelivered,
		statusgraph.TradeCompleted,
	}
	for i, name := range want {
		status, err := f.engine.Advance(ctx, trade.ID)
		if err != nil {
			t.Fatalf("Advance %d: %v", i+1, err)
		}
		if status.Name != name {
			t.Errorf("advance %d = %s, want %s", i+1, status.Name, name)
		}
	}

	// A finished trade stays finished, on every further call.
	for i := 0; i < 2; i++ {
		_, err := f.engine.Advance(ctx, trade.ID)
		if !errors.Is(err, ErrNoFurtherState) {
			t.Errorf("advance past end (call %d): expected ErrNoFurtherState, got %v", i+1, err)
		}
	}

	_, err = f.engine.Advance(ctx, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown trade: expected ErrNotFound, got %v", err)
	}
}

func TestStorageTimeoutSurfacesAsUnavailable(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	// An engine whose operation deadline has already passed by the time
	// the first storage call runs. Timeouts are retryable for callers, so
	// they must classify as ErrUnavailable, not as a terminal failure.
	hurried := NewEngine(f.db, statusgraph.New(f.db), 1000, time.Nanosecond)

	_, err := hurried.Purchase(ctx, f.listing.ID, f.buyer.ID, 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("purchase under expired deadline: expected ErrUnavailable, got %v", err)
	}

	// The timed-out attempt must not have reserved the listing.
	trade, err := f.engine.Purchase(ctx, f.listing.ID, f.buyer.ID, 0)
	if err != nil {
		t.Fatalf("purchase after timeout: %v", err)
	}

	_, err = hurried.Advance(ctx, trade.ID)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("advance under expired deadline: expected ErrUnavailable, got %v", err)
	}

	if _, err := f.engine.Advance(ctx, trade.ID); err != nil {
		t.Fatalf("advance after timeout: %v", err)
	}
}

func TestConcurrentPurchase(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	buyers := make([]*db.User, 6)
	npubs := []string{
		"npub1aaaa00000000000000000000000000000000000000000000000000000000",
		"npub1bbbb00000000000000000000000000000000000000000000000000000000",
		"npub1cccc00000000000000000000000000000000000000000000000000000000",
		"npub1dddd00000000000000000000000000000000000000000000000000000000",
		"npub1eeee00000000000000000000000000000000000000000000000000000000",
		"npub1ffff00000000000000000000000000000000000000000000000000000000",
	}
	for i, npub := range npubs {
		u, err := f.db.EnsureUser(ctx, npub)
		if err != nil {
			t.Fatalf("creating buyer %d: %v", i, err)
		}
		if _, err := f.db.SetDefaultAddress(ctx, u.ID, db.Address{
			RecipientName: "Buyer",
			PostalCode:    "100-0001",
			Region:        "Tokyo",
			City:          "Chiyoda",
			Street:        "1-1-1",
		}); err != nil {
			t.Fatalf("creating address %d: %v", i, err)
		}
		buyers[i] = u
	}

	results := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, u := range buyers {
		wg.Add(1)
		go func(i int, buyerID int64) {
			defer wg.Done()
			_, results[i] = f.engine.Purchase(ctx, f.listing.ID, buyerID, 0)
		}(i, u.ID)
	}
	wg.Wait()

	var successes int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict) || errors.Is(err, ErrNotPurchasable):
			// Losers fail either on the snapshot read or on the
			// conditional write, depending on interleaving.
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}

	var count int
	if err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE listing_id = ?`, f.listing.ID).Scan(&count); err != nil {
		t.Fatalf("counting trades: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 trade, got %d", count)
	}
}
