package normalize

import (
	"testing"

	"github.com/etfwatch/etfwatch/internal/adapter"
)

func TestNormalizeCoercesIssuerFormats(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", SecurityName: "台積電", Shares: "1,250,000", Weight: "12.5%", MarketValue: "1,312,500,000"},
		{SecurityCode: "2317", SecurityName: "鴻海", Shares: "380000.0", Weight: "4.20"},
		{SecurityCode: "2454", SecurityName: "聯發科", Shares: ""},
	}

	recs, errs := Normalize("00980A", "2025-08-29", rows)
	if len(errs) != 0 {
		t.Fatalf("unexpected row errors: %v", errs)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}

	tsmc := recs[0]
	if tsmc.Shares != 1250000 {
		t.Errorf("shares = %d, want 1250000", tsmc.Shares)
	}
	if tsmc.Weight == nil || *tsmc.Weight != 12.5 {
		t.Errorf("weight = %v, want 12.5", tsmc.Weight)
	}
	if !tsmc.MarketValue.Valid || tsmc.MarketValue.Decimal.String() != "1312500000" {
		t.Errorf("market value = %v, want 1312500000", tsmc.MarketValue)
	}
	if tsmc.InstrumentCode != "00980A" || tsmc.Date != "2025-08-29" {
		t.Errorf("record keys = %s/%s", tsmc.InstrumentCode, tsmc.Date)
	}

	if recs[1].Shares != 380000 {
		t.Errorf("redundant decimal point: shares = %d, want 380000", recs[1].Shares)
	}
	if recs[1].MarketValue.Valid {
		t.Error("absent market value should stay invalid")
	}
	if recs[2].Shares != 0 || recs[2].Weight != nil {
		t.Errorf("empty cells: shares = %d weight = %v, want 0 and nil", recs[2].Shares, recs[2].Weight)
	}
}

func TestNormalizeDropsBadShareRows(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", Shares: "1000"},
		{SecurityCode: "2317", Shares: "n/a"},
		{SecurityCode: "2454", Shares: "-500"},
		{SecurityCode: "3008", Shares: "100.5"},
		{SecurityName: "無代號", Shares: "100"},
	}

	recs, errs := Normalize("00980A", "2025-08-29", rows)
	if len(recs) != 1 || recs[0].SecurityCode != "2330" {
		t.Fatalf("records = %+v, want only 2330", recs)
	}
	if len(errs) != 4 {
		t.Fatalf("got %d row errors, want 4: %v", len(errs), errs)
	}
	for _, e := range errs {
		if e.Kind != BadShares {
			t.Errorf("kind = %s, want %s", e.Kind, BadShares)
		}
	}
}

func TestNormalizeKeepsRowsWithBadOptionalFields(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", Shares: "1000", Weight: "abc", MarketValue: "N/A"},
	}
	recs, errs := Normalize("00980A", "2025-08-29", rows)
	if len(recs) != 1 {
		t.Fatalf("row with bad optional fields must be kept, got %d records", len(recs))
	}
	if recs[0].Weight != nil || recs[0].MarketValue.Valid {
		t.Error("bad optional fields should be discarded, not guessed")
	}
	kinds := map[RowErrorKind]bool{}
	for _, e := range errs {
		kinds[e.Kind] = true
	}
	if !kinds[BadWeight] || !kinds[BadMarketValue] {
		t.Errorf("row errors = %v, want BadWeight and BadMarketValue", errs)
	}
}

func TestNormalizeClampsWeight(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", Shares: "1000", Weight: "104.2"},
		{SecurityCode: "2317", Shares: "1000", Weight: "-0.3"},
		{SecurityCode: "2454", Shares: "1000", Weight: "100"},
	}
	recs, errs := Normalize("00980A", "2025-08-29", rows)
	if *recs[0].Weight != 100 || *recs[1].Weight != 0 {
		t.Errorf("weights = %v %v, want 100 and 0", *recs[0].Weight, *recs[1].Weight)
	}
	if *recs[2].Weight != 100 {
		t.Errorf("boundary weight must not be flagged, got %v", *recs[2].Weight)
	}
	clamped := 0
	for _, e := range errs {
		if e.Kind == WeightClamped {
			clamped++
		}
	}
	if clamped != 2 {
		t.Errorf("got %d clamp errors, want 2: %v", clamped, errs)
	}
}

func TestNormalizeMergesSplitLots(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", SecurityName: "台積電", Shares: "1,000,000", Weight: "10.0", MarketValue: "500"},
		{SecurityCode: "2317", Shares: "5000"},
		{SecurityCode: "2330", Shares: "250,000", Weight: "2.5", MarketValue: "125"},
	}
	recs, errs := Normalize("00980A", "2025-08-29", rows)
	if len(errs) != 0 {
		t.Fatalf("unexpected row errors: %v", errs)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	merged := recs[0]
	if merged.SecurityCode != "2330" {
		t.Fatalf("first-seen order not preserved: %s", merged.SecurityCode)
	}
	if merged.Shares != 1250000 {
		t.Errorf("merged shares = %d, want 1250000", merged.Shares)
	}
	if *merged.Weight != 12.5 {
		t.Errorf("merged weight = %v, want 12.5", *merged.Weight)
	}
	if merged.MarketValue.Decimal.String() != "625" {
		t.Errorf("merged market value = %s, want 625", merged.MarketValue.Decimal)
	}
}

func TestEffectiveDate(t *testing.T) {
	rows := []adapter.RawHolding{
		{SecurityCode: "2330", Shares: "1"},
		{SecurityCode: "2317", Shares: "1", Date: "2025-08-28"},
	}
	if got := EffectiveDate(rows, "2025-08-29"); got != "2025-08-28" {
		t.Errorf("first reported date wins; got %s", got)
	}
	if got := EffectiveDate(nil, "2025-08-29"); got != "2025-08-29" {
		t.Errorf("fallback: got %s", got)
	}
}
