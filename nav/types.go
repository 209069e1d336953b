/*
Package nav provides the core domain of the NAV engine.

PURPOSE:
  Domain types shared by every other package: scheme reference data, the
  latest-price snapshot, the append-only price history and per-user holdings.
  Storage adapters, the ingestion pipeline and the valuation engine all speak
  in these types; none of them define their own.

KEY CONCEPTS IN THIS FILE (types.go):
  - SchemeCode: positive integer identifying a mutual-fund scheme
  - Scheme: immutable catalogue entry (name, fund house)
  - Quote: one price observation from the external source
  - LatestPrice: one row per scheme, overwritten on every refresh
  - PriceRecord: one row per (scheme, date), never rewritten
  - Holding: one row per (user, scheme), units incremented in place

DESIGN PRINCIPLES:
  1. Precision: prices and units are decimal.Decimal, never float64
  2. Type Safety: SchemeCode is its own type so codes and counts never mix
  3. Dates: NavDate is a calendar date, DD-MM-YYYY only at the boundary

SEE ALSO:
  - date.go: NavDate parsing and formatting
  - errors.go: Error taxonomy
  - store.go: Repository contracts
*/
package nav

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEME - Catalogue reference data
// =============================================================================

// SchemeCode identifies a mutual-fund scheme.
type SchemeCode int64

// ParseSchemeCode parses a scheme code from its textual form.
func ParseSchemeCode(s string) (SchemeCode, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "schemeCode", Reason: fmt.Sprintf("%q is not a number", s)}
	}
	code := SchemeCode(n)
	if err := code.Validate(); err != nil {
		return 0, err
	}
	return code, nil
}

// Validate rejects zero and negative codes.
func (c SchemeCode) Validate() error {
	if c <= 0 {
		return &ValidationError{Field: "schemeCode", Reason: "must be a positive integer"}
	}
	return nil
}

func (c SchemeCode) String() string { return strconv.FormatInt(int64(c), 10) }

// UnknownHouse is used when the catalogue source omits the fund house.
const UnknownHouse = "Unknown"

// Scheme is a catalogue entry. Created by catalogue sync, never mutated.
type Scheme struct {
	Code  SchemeCode
	Name  string
	House string
}

// =============================================================================
// PRICES
// =============================================================================

// Quote is a single price observation returned by a price source.
type Quote struct {
	Price decimal.Decimal
	Date  NavDate
}

// LatestPrice is the current NAV snapshot of a scheme.
type LatestPrice struct {
	Code        SchemeCode
	Price       decimal.Decimal
	Date        NavDate
	RefreshedAt time.Time
}

// PriceRecord is one PriceHistory row, keyed by (Code, Date).
type PriceRecord struct {
	Code      SchemeCode
	Date      NavDate
	Price     decimal.Decimal
	CreatedAt time.Time
}

// NewLatestPrice builds the snapshot row for a quote.
func NewLatestPrice(code SchemeCode, q Quote, at time.Time) LatestPrice {
	return LatestPrice{Code: code, Price: q.Price, Date: q.Date, RefreshedAt: at.UTC()}
}

// NewPriceRecord builds the history row for a quote.
func NewPriceRecord(code SchemeCode, q Quote, at time.Time) PriceRecord {
	return PriceRecord{Code: code, Date: q.Date, Price: q.Price, CreatedAt: at.UTC()}
}

// =============================================================================
// HOLDINGS
// =============================================================================

// MinUnits is both the smallest holding accepted and the unit granularity.
var MinUnits = decimal.New(1, -3)

// Holding is the quantity of a scheme held by one user.
type Holding struct {
	UserID    string
	Code      SchemeCode
	Units     decimal.Decimal
	CreatedAt time.Time
}

// ValidateUnits checks that units are positive, at least MinUnits and a
// multiple of MinUnits.
func ValidateUnits(units decimal.Decimal) error {
	if !units.IsPositive() {
		return &ValidationError{Field: "units", Reason: "must be greater than 0"}
	}
	if units.LessThan(MinUnits) {
		return &ValidationError{Field: "units", Reason: "must be at least " + MinUnits.String()}
	}
	if !units.Mod(MinUnits).IsZero() {
		return &ValidationError{Field: "units", Reason: "must not have more than 3 decimal places"}
	}
	return nil
}

// ValuedHolding is a holding joined with its scheme and latest price.
// Scheme and Latest are nil when the joined row does not exist.
type ValuedHolding struct {
	Holding Holding
	Scheme  *Scheme
	Latest  *LatestPrice
}
