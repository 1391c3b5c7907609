// Package normalize validates and coerces adapter output into canonical
// holding records. It is pure: no network, no clock, no storage.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/etfwatch/etfwatch/internal/adapter"
	"github.com/etfwatch/etfwatch/pkg/models"
)

// RowErrorKind classifies a per-row normalization problem.
type RowErrorKind string

const (
	BadShares      RowErrorKind = "bad_shares"       // row dropped
	BadWeight      RowErrorKind = "bad_weight"       // weight discarded, row kept
	WeightClamped  RowErrorKind = "weight_clamped"   // weight clamped into [0,100], row kept
	BadMarketValue RowErrorKind = "bad_market_value" // market value discarded, row kept
)

// RowError reports one rejected or repaired row. Non-fatal: counted and
// reported alongside a successful result.
type RowError struct {
	SecurityCode string
	Kind         RowErrorKind
	Detail       string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %s: %s (%s)", e.SecurityCode, e.Kind, e.Detail)
}

// EffectiveDate returns the date the issuer actually reported for these
// rows, falling back to the requested one. Some issuers answer a request
// for date D with the latest available earlier date.
func EffectiveDate(rows []adapter.RawHolding, requested string) string {
	for _, r := range rows {
		if r.Date != "" {
			return r.Date
		}
	}
	return requested
}

// Normalize coerces issuer-native rows into canonical records for one
// instrument and date. Rows whose share count does not parse to a
// non-negative integer are dropped; out-of-range weights are clamped and
// flagged (issuer rounding artifacts are expected); duplicate security
// codes are merged by summing, since some issuers report split lots.
func Normalize(instrumentCode, date string, rows []adapter.RawHolding) ([]models.HoldingRecord, []RowError) {
	var errs []RowError
	byCode := make(map[string]*models.HoldingRecord)
	var order []string

	for _, row := range rows {
		code := strings.TrimSpace(row.SecurityCode)
		if code == "" {
			errs = append(errs, RowError{Kind: BadShares, Detail: "empty security code"})
			continue
		}

		shares, err := parseShares(row.Shares)
		if err != nil {
			errs = append(errs, RowError{SecurityCode: code, Kind: BadShares, Detail: err.Error()})
			continue
		}

		rec := models.HoldingRecord{
			InstrumentCode: instrumentCode,
			SecurityCode:   code,
			SecurityName:   strings.TrimSpace(row.SecurityName),
			Shares:         shares,
			Date:           date,
		}

		if w, werr := parseWeight(row.Weight); werr != nil {
			errs = append(errs, RowError{SecurityCode: code, Kind: BadWeight, Detail: werr.Error()})
		} else if w != nil {
			rec.Weight = w
		}

		if mv, merr := parseMarketValue(row.MarketValue); merr != nil {
			errs = append(errs, RowError{SecurityCode: code, Kind: BadMarketValue, Detail: merr.Error()})
		} else {
			rec.MarketValue = mv
		}

		if existing, ok := byCode[code]; ok {
			mergeSplitLot(existing, rec)
			continue
		}
		byCode[code] = &rec
		order = append(order, code)
	}

	records := make([]models.HoldingRecord, 0, len(order))
	for _, code := range order {
		rec := byCode[code]
		if rec.Weight != nil {
			if clamped, was := clampWeight(*rec.Weight); was {
				errs = append(errs, RowError{
					SecurityCode: code, Kind: WeightClamped,
					Detail: fmt.Sprintf("weight %.4f clamped to %.4f", *rec.Weight, clamped),
				})
				rec.Weight = &clamped
			}
		}
		records = append(records, *rec)
	}
	return records, errs
}

// mergeSplitLot folds a duplicate row for the same security into the
// first one: shares, market value, and weight all sum.
func mergeSplitLot(dst *models.HoldingRecord, src models.HoldingRecord) {
	dst.Shares += src.Shares
	if src.MarketValue.Valid {
		if dst.MarketValue.Valid {
			dst.MarketValue.Decimal = dst.MarketValue.Decimal.Add(src.MarketValue.Decimal)
		} else {
			dst.MarketValue = src.MarketValue
		}
	}
	if src.Weight != nil {
		if dst.Weight != nil {
			sum := *dst.Weight + *src.Weight
			dst.Weight = &sum
		} else {
			dst.Weight = src.Weight
		}
	}
	if dst.SecurityName == "" {
		dst.SecurityName = src.SecurityName
	}
}

func cleanNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.TrimSpace(s)
}

// parseShares accepts issuer-native share counts: comma grouping and a
// redundant decimal point ("1250000.0") are tolerated, fractions and
// negatives are not.
func parseShares(s string) (int64, error) {
	clean := cleanNumber(s)
	if clean == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable share count %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative share count %q", s)
	}
	n := int64(f)
	if float64(n) != f {
		return 0, fmt.Errorf("fractional share count %q", s)
	}
	return n, nil
}

// parseWeight returns nil for absent weights.
func parseWeight(s string) (*float64, error) {
	clean := cleanNumber(strings.ReplaceAll(s, "%", ""))
	if clean == "" {
		return nil, nil
	}
	w, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, fmt.Errorf("unparseable weight %q", s)
	}
	return &w, nil
}

func parseMarketValue(s string) (decimal.NullDecimal, error) {
	clean := cleanNumber(s)
	if clean == "" || clean == "0" {
		// Issuers that omit market value report 0; treat both as absent.
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("unparseable market value %q", s)
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("negative market value %q", s)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func clampWeight(w float64) (float64, bool) {
	switch {
	case w < 0:
		return 0, true
	case w > 100:
		return 100, true
	default:
		return w, false
	}
}
