// Package store persists holdings snapshots in SQLite via GORM. History
// is append-only at the (instrument, date) granularity: re-writing a key
// atomically replaces the whole slice.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/etfwatch/etfwatch/pkg/models"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

// Error wraps a failed store operation with the operation name, so
// callers can log "write 00980A@2025-08-29 failed" without string
// surgery.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound is returned when no snapshot exists for the requested key.
var ErrNotFound = errors.New("store: snapshot not found")

// Stats summarizes store contents for the status command.
type Stats struct {
	Instruments  int64
	HoldingRows  int64
	EarliestDate string
	LatestDate   string
}

// Store is safe for concurrent use; SQLite serializes writers underneath.
type Store struct {
	db  *gorm.DB
	now func() time.Time // injectable for retention tests
}

// Open creates or opens the SQLite database at path, creating parent
// directories and migrating the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &Error{Op: "open " + path, Err: err}
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &Error{Op: "open " + path, Err: err}
	}
	if err := db.AutoMigrate(&Instrument{}, &Holding{}); err != nil {
		return nil, &Error{Op: "migrate", Err: err}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying SQLite handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &Error{Op: "close", Err: err}
	}
	return sqlDB.Close()
}

// UpsertInstruments registers or refreshes tracked funds. Only the
// metadata a caller actually supplies is written on conflict: the
// pipeline refreshes issuer and timestamp per run without a name, and
// that must not blank out what discovery registered.
func (s *Store) UpsertInstruments(ctx context.Context, ins []models.Instrument) error {
	if len(ins) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range ins {
			row := instrumentRow(in)
			set := map[string]any{"updated_at": s.now()}
			if in.Name != "" {
				set["name"] = in.Name
			}
			if in.Issuer != "" {
				set["issuer"] = in.Issuer
			}
			if in.ListingDate != "" {
				set["listing_date"] = in.ListingDate
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoUpdates: clause.Assignments(set),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "upsert instruments", Err: err}
	}
	return nil
}

// Instruments returns all registered funds ordered by code.
func (s *Store) Instruments(ctx context.Context) ([]models.Instrument, error) {
	var rows []Instrument
	if err := s.db.WithContext(ctx).Order("code").Find(&rows).Error; err != nil {
		return nil, &Error{Op: "list instruments", Err: err}
	}
	out := make([]models.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Instrument{
			Code:        r.Code,
			Name:        r.Name,
			Issuer:      r.Issuer,
			ListingDate: r.ListingDate,
			LastUpdated: r.UpdatedAt,
		})
	}
	return out, nil
}

// Write replaces the snapshot for (snapshot.InstrumentCode,
// snapshot.Date) in one transaction. Either the whole new slice lands or
// the previous one survives untouched.
func (s *Store) Write(ctx context.Context, snapshot models.HoldingsSnapshot) error {
	op := fmt.Sprintf("write %s@%s", snapshot.InstrumentCode, snapshot.Date)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instrument_code = ? AND date = ?", snapshot.InstrumentCode, snapshot.Date).
			Delete(&Holding{}).Error; err != nil {
			return err
		}
		if len(snapshot.Records) == 0 {
			return nil
		}
		rows := make([]Holding, 0, len(snapshot.Records))
		for _, rec := range snapshot.Records {
			rows = append(rows, holdingRow(rec))
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// Read loads the snapshot for an exact (instrument, date) key.
func (s *Store) Read(ctx context.Context, instrumentCode, date string) (models.HoldingsSnapshot, error) {
	var rows []Holding
	err := s.db.WithContext(ctx).
		Where("instrument_code = ? AND date = ?", instrumentCode, date).
		Order("security_code").
		Find(&rows).Error
	if err != nil {
		return models.HoldingsSnapshot{}, &Error{Op: fmt.Sprintf("read %s@%s", instrumentCode, date), Err: err}
	}
	if len(rows) == 0 {
		return models.HoldingsSnapshot{}, ErrNotFound
	}
	return snapshotFrom(instrumentCode, date, rows), nil
}

// ReadLatestBefore loads the most recent snapshot strictly earlier than
// date, which is the prior side of a diff. Returns ErrNotFound when the
// instrument has no earlier history (the baseline case).
func (s *Store) ReadLatestBefore(ctx context.Context, instrumentCode, date string) (models.HoldingsSnapshot, error) {
	var prior sql.NullString
	err := s.db.WithContext(ctx).Model(&Holding{}).
		Where("instrument_code = ? AND date < ?", instrumentCode, date).
		Select("MAX(date)").
		Row().Scan(&prior)
	if err != nil {
		return models.HoldingsSnapshot{}, &Error{Op: fmt.Sprintf("latest before %s@%s", instrumentCode, date), Err: err}
	}
	if !prior.Valid || prior.String == "" {
		return models.HoldingsSnapshot{}, ErrNotFound
	}
	return s.Read(ctx, instrumentCode, prior.String)
}

// Dates returns the distinct snapshot dates stored for an instrument,
// newest first.
func (s *Store) Dates(ctx context.Context, instrumentCode string) ([]string, error) {
	var dates []string
	err := s.db.WithContext(ctx).Model(&Holding{}).
		Where("instrument_code = ?", instrumentCode).
		Distinct("date").
		Order("date DESC").
		Pluck("date", &dates).Error
	if err != nil {
		return nil, &Error{Op: "dates " + instrumentCode, Err: err}
	}
	return dates, nil
}

// Prune deletes holdings older than the retention window and returns the
// number of rows removed. Instruments are never pruned.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().In(utils.Taipei).AddDate(0, 0, -retentionDays).Format(utils.DateLayout)
	res := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(&Holding{})
	if res.Error != nil {
		return 0, &Error{Op: "prune before " + cutoff, Err: res.Error}
	}
	return res.RowsAffected, nil
}

// Stats reports row counts and the covered date range.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&Instrument{}).Count(&st.Instruments).Error; err != nil {
		return st, &Error{Op: "stats", Err: err}
	}
	if err := db.Model(&Holding{}).Count(&st.HoldingRows).Error; err != nil {
		return st, &Error{Op: "stats", Err: err}
	}
	if st.HoldingRows > 0 {
		row := db.Model(&Holding{}).Select("MIN(date), MAX(date)").Row()
		if err := row.Scan(&st.EarliestDate, &st.LatestDate); err != nil {
			return st, &Error{Op: "stats", Err: err}
		}
	}
	return st, nil
}

func snapshotFrom(instrumentCode, date string, rows []Holding) models.HoldingsSnapshot {
	snap := models.HoldingsSnapshot{
		InstrumentCode: instrumentCode,
		Date:           date,
		Records:        make([]models.HoldingRecord, 0, len(rows)),
	}
	for _, r := range rows {
		snap.Records = append(snap.Records, r.record())
	}
	return snap
}
