package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etfwatch/etfwatch/internal/adapter"
	"github.com/etfwatch/etfwatch/internal/config"
	"github.com/etfwatch/etfwatch/internal/fetch"
	"github.com/etfwatch/etfwatch/internal/store"
	"github.com/etfwatch/etfwatch/pkg/models"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

// fakeAdapter serves canned rows keyed by instrument code, without any
// network.
type fakeAdapter struct {
	name       string
	historical bool
	rows       map[string][]adapter.RawHolding
	fetchErr   error
	stall      bool
	fetched    int
}

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) Issuer() string                { return f.name }
func (f *fakeAdapter) SupportsHistoricalFetch() bool { return f.historical }

func (f *fakeAdapter) FundID(code string) (string, error) {
	if _, ok := f.rows[code]; !ok {
		return "", &adapter.ConfigError{Kind: adapter.UnknownInstrument, Adapter: f.name, Instrument: code}
	}
	return code, nil
}

func (f *fakeAdapter) FetchRaw(ctx context.Context, code, date string) (*fetch.RawPage, error) {
	f.fetched++
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if _, err := f.FundID(code); err != nil {
		return nil, err
	}
	return &fetch.RawPage{Body: []byte(code), StatusCode: 200, FetchedAt: time.Now()}, nil
}

func (f *fakeAdapter) Parse(page *fetch.RawPage, code, date string) ([]adapter.RawHolding, error) {
	return f.rows[string(page.Body)], nil
}

func testRunner(t *testing.T, reg *adapter.Registry, bindings []config.InstrumentBinding) (*Runner, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	cfg := config.PipelineConfig{Workers: 2, WeightThreshold: 0.5}
	return New(reg, s, bindings, cfg, 365, zap.NewNop().Sugar()), s
}

func rowsFor(shares string) []adapter.RawHolding {
	return []adapter.RawHolding{
		{SecurityCode: "2330", SecurityName: "台積電", Shares: shares, Weight: "12.5"},
		{SecurityCode: "2317", SecurityName: "鴻海", Shares: "380,000", Weight: "4.2"},
	}
}

func TestRunOnceBaselineThenDiff(t *testing.T) {
	fa := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": rowsFor("1,000,000"),
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, s := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})
	ctx := context.Background()

	run, err := r.RunOnce(ctx, "2025-08-28")
	require.NoError(t, err)
	require.Len(t, run.Instruments, 1)
	assert.Equal(t, models.OutcomeBaseline, run.Instruments[0].Outcome)
	assert.Equal(t, 2, run.Instruments[0].Holdings)
	assert.Empty(t, run.ChangeSets, "first snapshot has nothing to diff against")
	assert.Equal(t, 1, run.Succeeded)
	assert.NotEmpty(t, run.RunID)

	snap, err := s.Read(ctx, "00980A", "2025-08-28")
	require.NoError(t, err)
	assert.Len(t, snap.Records, 2)

	fa.rows["00980A"] = rowsFor("1,250,000")
	run, err = r.RunOnce(ctx, "2025-08-29")
	require.NoError(t, err)
	require.Len(t, run.Instruments, 1)
	assert.Equal(t, models.OutcomeDone, run.Instruments[0].Outcome)
	require.Len(t, run.ChangeSets, 1)

	cs := run.ChangeSets[0]
	assert.Equal(t, "2025-08-28", cs.PriorDate)
	assert.Equal(t, "2025-08-29", cs.CurrentDate)
	require.Len(t, cs.Records, 1)
	assert.Equal(t, "2330", cs.Records[0].SecurityCode)
	assert.Equal(t, int64(250000), cs.Records[0].DeltaShares)

	ins, err := s.Instruments(ctx)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Equal(t, "nomura", ins[0].Issuer)
}

func TestRunOncePartialFailureIsolation(t *testing.T) {
	good := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": rowsFor("1,000,000"),
	}}
	bad := &fakeAdapter{name: "fsitc", historical: true, fetchErr: errors.New("boom")}
	reg := adapter.NewRegistry()
	reg.Register(good)
	reg.Register(bad)
	r, s := testRunner(t, reg, []config.InstrumentBinding{
		{Code: "00980A", Adapter: "nomura"},
		{Code: "00994A", Adapter: "fsitc"},
	})
	ctx := context.Background()

	run, err := r.RunOnce(ctx, "2025-08-29")
	require.NoError(t, err, "partial failure must not fail the run")
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)

	byCode := map[string]models.InstrumentResult{}
	for _, res := range run.Instruments {
		byCode[res.Code] = res
	}
	assert.Equal(t, models.OutcomeFailed, byCode["00994A"].Outcome)
	assert.Contains(t, byCode["00994A"].Error, "boom")

	_, err = s.Read(ctx, "00980A", "2025-08-29")
	assert.NoError(t, err, "the healthy instrument still gets its snapshot")
}

func TestRunOnceAllFailed(t *testing.T) {
	bad := &fakeAdapter{name: "nomura", historical: true, fetchErr: errors.New("boom")}
	reg := adapter.NewRegistry()
	reg.Register(bad)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})

	run, err := r.RunOnce(context.Background(), "2025-08-29")
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Equal(t, 1, run.Failed)
}

func TestRunOnceHistoricalUnsupported(t *testing.T) {
	currentOnly := &fakeAdapter{name: "ezmoney", historical: false, rows: map[string][]adapter.RawHolding{
		"00981A": rowsFor("49,000"),
	}}
	reg := adapter.NewRegistry()
	reg.Register(currentOnly)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00981A", Adapter: "ezmoney"}})

	run, err := r.RunOnce(context.Background(), "2020-01-02")
	assert.ErrorIs(t, err, ErrAllFailed)
	require.Len(t, run.Instruments, 1)
	assert.Equal(t, models.OutcomeFailed, run.Instruments[0].Outcome)

	assert.Contains(t, run.Instruments[0].Error, "current composition")
	assert.Zero(t, currentOnly.fetched, "must fail before any network call")

	// Today's date is always allowed.
	run, err = r.RunOnce(context.Background(), utils.Today())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBaseline, run.Instruments[0].Outcome)
}

func TestRunOnceUnknownAdapter(t *testing.T) {
	reg := adapter.NewRegistry()
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "capital"}})

	run, err := r.RunOnce(context.Background(), "2025-08-29")
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Contains(t, run.Instruments[0].Error, "capital")
}

func TestRunOnceEmptyHoldingsIsFailure(t *testing.T) {
	empty := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": {},
	}}
	reg := adapter.NewRegistry()
	reg.Register(empty)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})

	run, err := r.RunOnce(context.Background(), "2025-08-29")
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Contains(t, run.Instruments[0].Error, "no holdings")
}

func TestRunOnceRowErrorsSurvive(t *testing.T) {
	fa := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": {
			{SecurityCode: "2330", Shares: "1,000"},
			{SecurityCode: "2317", Shares: "n/a"},
		},
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})

	run, err := r.RunOnce(context.Background(), "2025-08-29")
	require.NoError(t, err)
	res := run.Instruments[0]
	assert.Equal(t, 1, res.Holdings)
	require.Len(t, res.RowErrors, 1)
	assert.Contains(t, res.RowErrors[0], "2317")
}

func TestRunOnceEffectiveDateFromIssuer(t *testing.T) {
	// The issuer answers the request for the 29th with data dated the
	// 28th; the snapshot must be keyed by the issuer's date.
	fa := &fakeAdapter{name: "fsitc", historical: true, rows: map[string][]adapter.RawHolding{
		"00994A": {
			{SecurityCode: "2330", Shares: "1,000", Date: "2025-08-28"},
		},
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, s := testRunner(t, reg, []config.InstrumentBinding{{Code: "00994A", Adapter: "fsitc"}})
	ctx := context.Background()

	_, err := r.RunOnce(ctx, "2025-08-29")
	require.NoError(t, err)

	_, err = s.Read(ctx, "00994A", "2025-08-28")
	assert.NoError(t, err)
	_, err = s.Read(ctx, "00994A", "2025-08-29")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOncePrunesOldHistory(t *testing.T) {
	fa := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": rowsFor("1,000,000"),
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, s := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})
	ctx := context.Background()

	stale := models.HoldingsSnapshot{
		InstrumentCode: "00980A",
		Date:           "2020-01-02",
		Records: []models.HoldingRecord{
			{InstrumentCode: "00980A", SecurityCode: "2330", Shares: 1, Date: "2020-01-02"},
		},
	}
	require.NoError(t, s.Write(ctx, stale))

	_, err := r.RunOnce(ctx, utils.Today())
	require.NoError(t, err)

	_, err = s.Read(ctx, "00980A", "2020-01-02")
	assert.ErrorIs(t, err, store.ErrNotFound, "rows past retention are pruned at the end of a run")
}

func TestRunOnceCancelledContextSkips(t *testing.T) {
	fa := &fakeAdapter{name: "nomura", historical: true, rows: map[string][]adapter.RawHolding{
		"00980A": rowsFor("1,000,000"),
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, _ := r.RunOnce(ctx, "2025-08-29")
	require.Len(t, run.Instruments, 1)
	assert.Equal(t, models.OutcomeSkipped, run.Instruments[0].Outcome)
	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, fa.fetched)
}

func TestRunOnceDeadlineMidFetchSkips(t *testing.T) {
	fa := &fakeAdapter{name: "nomura", historical: true, stall: true, rows: map[string][]adapter.RawHolding{
		"00980A": rowsFor("1,000,000"),
	}}
	reg := adapter.NewRegistry()
	reg.Register(fa)
	r, _ := testRunner(t, reg, []config.InstrumentBinding{{Code: "00980A", Adapter: "nomura"}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	run, err := r.RunOnce(ctx, "2025-08-29")
	assert.NoError(t, err, "a run cut short by its deadline is not a total failure")
	require.Len(t, run.Instruments, 1)
	assert.Equal(t, models.OutcomeSkipped, run.Instruments[0].Outcome)
	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, run.Failed)
	assert.Equal(t, 1, fa.fetched, "fetch was underway when the deadline hit")
}
