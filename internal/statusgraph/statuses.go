package statusgraph

// Listing status names seeded by the migrations. The graph itself is
// data-driven; these constants only exist so call sites don't scatter
// string literals.
const (
	ListingOnSale  = "ON_SALE"
	ListingSoldOut = "SOLD_OUT"
)

// Trade status names, in chain order.
const (
	TradeWaitingShipping = "WAITING_SHIPPING"
	TradeShipped         = "SHIPPED"
	TradeInTransit       = "IN_TRANSIT"
	TradeOutForDelivery  = "OUT_FOR_DELIVERY"
	TradeDelivered       = "DELIVERED"
	TradeCompleted       = "COMPLETED"
)
