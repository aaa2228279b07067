package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var DefaultCommissionRate = decimal.RequireFromString("0.20")

type FeeSplit struct {
	TotalCents        int64 `json:"total_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	SellerAmountCents int64 `json:"seller_amount_cents"`
}

// Split divides total between the platform and the seller. The fee is
// rounded half-up on the minor unit and the seller gets the remainder, so
// fee + seller == total.
func Split(totalCents int64, rate decimal.Decimal) (FeeSplit, error) {
	if totalCents < 0 {
		return FeeSplit{}, fmt.Errorf("negative total %d", totalCents)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeSplit{}, fmt.Errorf("commission rate %s out of range", rate)
	}
	fee := decimal.NewFromInt(totalCents).Mul(rate).Round(0).IntPart()
	return FeeSplit{
		TotalCents:        totalCents,
		PlatformFeeCents:  fee,
		SellerAmountCents: totalCents - fee,
	}, nil
}

// FormatCents renders minor units as a fixed two-decimal amount, e.g. 20000 -> "200.00".
func FormatCents(c int64) string {
	return decimal.New(c, -2).StringFixed(2)
}

// FormatFolio renders the receipt folio for a sequence number.
func FormatFolio(seq int64, at time.Time) string {
	return fmt.Sprintf("REC-%d-%06d", at.Year(), seq)
}
