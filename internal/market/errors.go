package market

import "errors"

// ErrNotFound indicates a referenced listing or trade does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotPurchasable indicates the listing is not in a purchasable state,
// or the buyer is the seller.
var ErrNotPurchasable = errors.New("listing not purchasable")

// ErrNoShippingAddress indicates the buyer has no usable shipping address.
// User-correctable: the caller should prompt for an address.
var ErrNoShippingAddress = errors.New("no shipping address")

// ErrConflict indicates the operation lost a race: another buyer reserved
// the listing, or another caller advanced the trade first. Callers must
// reload state rather than retry the identical request.
var ErrConflict = errors.New("lost race to concurrent operation")

// ErrNoFurtherState indicates the trade is already in the terminal status.
// Benign; repeated advances on a finished trade return it every time.
var ErrNoFurtherState = errors.New("no further state")

// ErrUnavailable indicates a storage timeout or transient failure. The only
// error in this package that is safe to retry, with backoff.
var ErrUnavailable = errors.New("storage unavailable")

// ErrInvariant indicates a broken engine invariant, such as a misconfigured
// status graph. A bug, not a user condition; surface it loudly.
var ErrInvariant = errors.New("invariant violation")
