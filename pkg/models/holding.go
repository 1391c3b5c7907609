// Package models defines the canonical record types shared by the
// ingestion pipeline: instruments, holdings, snapshots, and the change
// results handed to reporting.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tracked fund, identified by its exchange code
// (e.g. "00980A"). Created on first successful ingestion; only the
// display metadata is ever refreshed afterwards.
type Instrument struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Issuer      string    `json:"issuer,omitempty"`
	ListingDate string    `json:"listing_date,omitempty"` // YYYY-MM-DD, may be empty
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// HoldingRecord is one constituent position of an instrument on one date.
// Shares are always raw share counts; issuer-native units (lots) are
// multiplied out during parsing. Weight is a percentage in [0,100] and
// may be absent; market value may be absent (most issuer feeds omit it).
type HoldingRecord struct {
	InstrumentCode string              `json:"instrument_code"`
	SecurityCode   string              `json:"security_code"`
	SecurityName   string              `json:"security_name"`
	Shares         int64               `json:"shares"`
	MarketValue    decimal.NullDecimal `json:"market_value,omitempty"`
	Weight         *float64            `json:"weight,omitempty"`
	Date           string              `json:"date"` // YYYY-MM-DD
}

// HoldingsSnapshot is the complete holdings set for one instrument on one
// date. Immutable after creation; new dates never overwrite prior dates.
type HoldingsSnapshot struct {
	InstrumentCode string          `json:"instrument_code"`
	Date           string          `json:"date"`
	Records        []HoldingRecord `json:"records"`
}

// Index returns the snapshot's records keyed by security code.
func (s HoldingsSnapshot) Index() map[string]HoldingRecord {
	idx := make(map[string]HoldingRecord, len(s.Records))
	for _, r := range s.Records {
		idx[r.SecurityCode] = r
	}
	return idx
}

// SharesPerLot is the TWSE board-lot size. Reports show positions in
// lots (張) alongside raw shares.
const SharesPerLot = 1000

// SharesToLots converts a raw share count to board lots.
func SharesToLots(shares int64) float64 {
	return float64(shares) / SharesPerLot
}
