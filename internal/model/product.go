package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Unit is the sale unit of a product.
type Unit string

const (
	UnitKg   Unit = "kg"
	UnitUn   Unit = "un"
	UnitL    Unit = "l"
	UnitG    Unit = "g"
	UnitMl   Unit = "ml"
	UnitPack Unit = "pack"
)

// Valid reports whether u is one of the known sale units.
func (u Unit) Valid() bool {
	switch u {
	case UnitKg, UnitUn, UnitL, UnitG, UnitMl, UnitPack:
		return true
	}
	return false
}

// ParseUnit normalizes a raw unit string (any case, surrounding spaces)
// into a Unit. Returns false if the string is not a known unit.
func ParseUnit(s string) (Unit, bool) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	return u, u.Valid()
}

// Category is one entry of the fixed product taxonomy.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is a retail store participating in price collection.
type Store struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	City   string `json:"city"`
	State  string `json:"state"`
	Active bool   `json:"active"`
}

// Product is a tracked product. ReferencePrice is the rolling 30-day
// reference, nil until the first daily run computes it.
type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CategoryID     string    `json:"category_id"`
	Unit           Unit      `json:"unit"`
	ReferencePrice *float64  `json:"reference_price,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Promotion is one store's advertised price for a product over a window.
type Promotion struct {
	ID            string           `json:"id"`
	ProductID     string           `json:"product_id"`
	StoreID       string           `json:"store_id"`
	PromoPrice    decimal.Decimal  `json:"promo_price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	StartsAt      time.Time        `json:"starts_at"`
	EndsAt        time.Time        `json:"ends_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ActiveAt reports whether the promotion window covers t.
func (p Promotion) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartsAt) && !t.After(p.EndsAt)
}
