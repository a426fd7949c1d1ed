package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// OrderType selects how a hypothetical order interacts with the book.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ParseOrderType accepts "market" or "limit" in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case OrderTypeMarket:
		return OrderTypeMarket, nil
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	}
	return "", fmt.Errorf("%w: order type %q", ErrInvalidOrder, s)
}

// Side is the direction of the hypothetical order. Buys consume asks, sells
// consume bids.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts "buy" or "sell" in any case; empty defaults to buy.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy, "":
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, s)
}

// FeeTier is a maker/taker rate pair. Rates are percentages (0.1 means 0.1%).
type FeeTier struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	MakerRate    float64 `json:"maker_rate"`
	TakerRate    float64 `json:"taker_rate"`
	MinVolumeUSD float64 `json:"min_volume_usd"`
}

// OrderParameters describe the hypothetical order. They are owned by the
// caller and passed by value on every recomputation.
type OrderParameters struct {
	Quantity   float64   `json:"quantity"`
	OrderType  OrderType `json:"order_type"`
	Side       Side      `json:"side"`
	FeeTier    FeeTier   `json:"fee_tier"`
	Volatility float64   `json:"volatility"`
}

// Validate returns ErrInvalidOrder describing the first problem found.
func (p OrderParameters) Validate() error {
	if !(p.Quantity > 0) || math.IsInf(p.Quantity, 0) {
		return fmt.Errorf("%w: quantity must be > 0, got %g", ErrInvalidOrder, p.Quantity)
	}
	if p.OrderType != OrderTypeMarket && p.OrderType != OrderTypeLimit {
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, p.OrderType)
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, p.Side)
	}
	if !(p.Volatility >= 0 && p.Volatility <= 100) {
		return fmt.Errorf("%w: volatility must be within [0,100], got %g", ErrInvalidOrder, p.Volatility)
	}
	return nil
}

// FeeCatalog is the static, read-only table of fee tiers.
type FeeCatalog struct {
	tiers []FeeTier
	byID  map[string]FeeTier
}

// DefaultFeeTiers is the built-in tier table.
func DefaultFeeTiers() []FeeTier {
	return []FeeTier{
		{ID: "tier1", Label: "Regular", MakerRate: 0.10, TakerRate: 0.10, MinVolumeUSD: 0},
		{ID: "tier2", Label: "VIP 1", MakerRate: 0.08, TakerRate: 0.10, MinVolumeUSD: 50_000},
		{ID: "tier3", Label: "VIP 2", MakerRate: 0.06, TakerRate: 0.08, MinVolumeUSD: 100_000},
		{ID: "tier4", Label: "VIP 3", MakerRate: 0.04, TakerRate: 0.06, MinVolumeUSD: 500_000},
	}
}

// NewFeeCatalog copies tiers into a catalog ordered by MinVolumeUSD.
func NewFeeCatalog(tiers []FeeTier) *FeeCatalog {
	c := &FeeCatalog{
		tiers: append([]FeeTier(nil), tiers...),
		byID:  make(map[string]FeeTier, len(tiers)),
	}
	sort.SliceStable(c.tiers, func(i, j int) bool {
		return c.tiers[i].MinVolumeUSD < c.tiers[j].MinVolumeUSD
	})
	for _, t := range c.tiers {
		c.byID[t.ID] = t
	}
	return c
}

// Tiers returns a copy of every tier, lowest volume threshold first.
func (c *FeeCatalog) Tiers() []FeeTier {
	return append([]FeeTier(nil), c.tiers...)
}

// Lookup returns the tier with the given id.
func (c *FeeCatalog) Lookup(id string) (FeeTier, error) {
	t, ok := c.byID[id]
	if !ok {
		return FeeTier{}, fmt.Errorf("%w: %q", ErrUnknownFeeTier, id)
	}
	return t, nil
}

// ForVolume returns the highest tier whose threshold is at or below the
// trailing trading volume. Volumes below every threshold get the lowest tier.
func (c *FeeCatalog) ForVolume(volumeUSD float64) (FeeTier, bool) {
	if len(c.tiers) == 0 {
		return FeeTier{}, false
	}
	best := c.tiers[0]
	for _, t := range c.tiers {
		if volumeUSD >= t.MinVolumeUSD {
			best = t
		}
	}
	return best, true
}
