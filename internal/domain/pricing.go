package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShopPricing holds the per-page prices published by the shop.
type ShopPricing struct {
	BW    decimal.Decimal
	Color decimal.Decimal
}

// ShopSettings is the operator-managed shop document observed by the core. It is never written here.
type ShopSettings struct {
	ShopID    string
	IsOpen    bool
	Pricing   ShopPricing
	Currency  string
	UpdatedAt time.Time
}

// DocumentQuote captures the price derived for one session document.
type DocumentQuote struct {
	DocumentID         string
	Name               string
	FileType           FileType
	EffectivePageCount int
	PerPage            decimal.Decimal
	Copies             int
	Price              decimal.Decimal
	Problems           []string
}

// Quote aggregates document prices for a session against the current shop pricing.
type Quote struct {
	SessionID      string
	Currency       string
	Documents      []DocumentQuote
	Total          decimal.Decimal
	TotalDisplay   string
	ShopOpen       bool
	PricingAsOf    time.Time
	SessionVersion uint64
}
