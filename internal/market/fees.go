package market

// Split divides a purchase price into the platform fee and the seller's
// income. The fee is floor-rounded; the income is the remainder, never
// rounded independently, so fee+income == price holds for every price and
// rate.
func Split(price int64, feeRateBps int) (fee, income int64) {
	fee = price * int64(feeRateBps) / 10000
	income = price - fee
	return fee, income
}
