package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/etfwatch/etfwatch/pkg/models"
)

// Instrument is the tracked-fund row. The fund code is the natural key.
type Instrument struct {
	Code        string `gorm:"primaryKey;size:16"`
	Name        string `gorm:"size:128"`
	Issuer      string `gorm:"size:64"`
	ListingDate string `gorm:"size:10"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Holding is one security position of one instrument on one date.
// Immutable history: a re-run for the same key replaces the whole
// (instrument, date) slice, never patches individual rows.
type Holding struct {
	ID             uint                `gorm:"primaryKey;autoIncrement"`
	InstrumentCode string              `gorm:"size:16;not null;uniqueIndex:idx_holding_key,priority:1;index:idx_holding_instrument_date,priority:1"`
	SecurityCode   string              `gorm:"size:16;not null;uniqueIndex:idx_holding_key,priority:2"`
	SecurityName   string              `gorm:"size:128"`
	Shares         int64               `gorm:"not null"`
	MarketValue    decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Weight         *float64
	Date           string `gorm:"size:10;not null;uniqueIndex:idx_holding_key,priority:3;index:idx_holding_instrument_date,priority:2;index:idx_holding_date"`
	CreatedAt      time.Time
}

func instrumentRow(in models.Instrument) Instrument {
	return Instrument{
		Code:        in.Code,
		Name:        in.Name,
		Issuer:      in.Issuer,
		ListingDate: in.ListingDate,
	}
}

func holdingRow(rec models.HoldingRecord) Holding {
	return Holding{
		InstrumentCode: rec.InstrumentCode,
		SecurityCode:   rec.SecurityCode,
		SecurityName:   rec.SecurityName,
		Shares:         rec.Shares,
		MarketValue:    rec.MarketValue,
		Weight:         rec.Weight,
		Date:           rec.Date,
	}
}

func (h Holding) record() models.HoldingRecord {
	return models.HoldingRecord{
		InstrumentCode: h.InstrumentCode,
		SecurityCode:   h.SecurityCode,
		SecurityName:   h.SecurityName,
		Shares:         h.Shares,
		MarketValue:    h.MarketValue,
		Weight:         h.Weight,
		Date:           h.Date,
	}
}
