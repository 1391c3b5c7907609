// Package pipeline orchestrates one ingestion run: fetch every bound
// instrument, normalize, persist, and diff against the previous
// snapshot. One bad instrument never takes down the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/etfwatch/etfwatch/internal/adapter"
	"github.com/etfwatch/etfwatch/internal/config"
	"github.com/etfwatch/etfwatch/internal/detect"
	"github.com/etfwatch/etfwatch/internal/normalize"
	"github.com/etfwatch/etfwatch/internal/store"
	"github.com/etfwatch/etfwatch/pkg/models"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

// ErrAllFailed is returned when not a single instrument produced a
// snapshot. Partial failure is reported inside the RunResult instead.
var ErrAllFailed = errors.New("pipeline: every instrument failed")

// Snapshots is the slice of the store the runner needs.
type Snapshots interface {
	UpsertInstruments(ctx context.Context, ins []models.Instrument) error
	Write(ctx context.Context, snapshot models.HoldingsSnapshot) error
	ReadLatestBefore(ctx context.Context, instrumentCode, date string) (models.HoldingsSnapshot, error)
	Prune(ctx context.Context, retentionDays int) (int64, error)
}

// Runner executes ingestion runs against a fixed set of instrument
// bindings.
type Runner struct {
	registry  *adapter.Registry
	snapshots Snapshots
	bindings  []config.InstrumentBinding

	workers         int
	weightThreshold float64
	retentionDays   int

	log *zap.SugaredLogger
	now func() time.Time
}

// New wires a runner. Workers below 1 are clamped to 1.
func New(registry *adapter.Registry, snapshots Snapshots, bindings []config.InstrumentBinding, cfg config.PipelineConfig, retentionDays int, log *zap.SugaredLogger) *Runner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		registry:        registry,
		snapshots:       snapshots,
		bindings:        bindings,
		workers:         workers,
		weightThreshold: cfg.WeightThreshold,
		retentionDays:   retentionDays,
		log:             log,
		now:             time.Now,
	}
}

// RunOnce ingests all bound instruments for one date. It returns a
// RunResult even on partial failure; the error is non-nil only when the
// run as a whole produced nothing.
func (r *Runner) RunOnce(ctx context.Context, date string) (*models.RunResult, error) {
	run := &models.RunResult{
		RunID:     uuid.NewString(),
		Date:      date,
		StartedAt: r.now(),
	}
	r.log.Infow("run started", "run_id", run.RunID, "date", date, "instruments", len(r.bindings), "workers", r.workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, binding := range r.bindings {
		g.Go(func() error {
			res, changes := r.runInstrument(gctx, binding, date)
			mu.Lock()
			run.Instruments = append(run.Instruments, res)
			if changes != nil {
				run.ChangeSets = append(run.ChangeSets, *changes)
			}
			mu.Unlock()
			return nil // per-instrument failures are recorded, not propagated
		})
	}
	_ = g.Wait()

	for _, res := range run.Instruments {
		switch res.Outcome {
		case models.OutcomeFailed:
			run.Failed++
		case models.OutcomeSkipped:
			run.Skipped++
		default:
			run.Succeeded++
		}
	}

	// Retention runs once per run, after all writes. A failed prune is
	// worth a warning, not a failed run.
	if removed, err := r.snapshots.Prune(ctx, r.retentionDays); err != nil {
		r.log.Warnw("prune failed", "run_id", run.RunID, "error", err)
	} else if removed > 0 {
		r.log.Infow("pruned old holdings", "run_id", run.RunID, "rows", removed)
	}

	run.FinishedAt = r.now()
	r.log.Infow("run finished", "run_id", run.RunID,
		"succeeded", run.Succeeded, "failed", run.Failed, "skipped", run.Skipped,
		"elapsed", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	if run.Succeeded == 0 && run.Failed > 0 {
		return run, ErrAllFailed
	}
	return run, nil
}

func (r *Runner) runInstrument(ctx context.Context, binding config.InstrumentBinding, date string) (models.InstrumentResult, *models.ChangeSet) {
	res := models.InstrumentResult{Code: binding.Code, Adapter: binding.Adapter}
	log := r.log.With("instrument", binding.Code, "adapter", binding.Adapter)

	if err := ctx.Err(); err != nil {
		res.Outcome = models.OutcomeSkipped
		res.Error = err.Error()
		log.Warnw("instrument skipped", "error", err)
		return res, nil
	}

	ad, err := r.registry.Get(binding.Adapter)
	if err != nil {
		return r.failed(ctx, res, log, err), nil
	}

	// An issuer that only serves today's composition cannot answer a
	// backfill request; fail before spending any network calls.
	if date < utils.Today() && !ad.SupportsHistoricalFetch() {
		err := &adapter.ConfigError{
			Kind:       adapter.HistoricalUnsupported,
			Adapter:    ad.Name(),
			Instrument: binding.Code,
		}
		return r.failed(ctx, res, log, err), nil
	}

	page, err := ad.FetchRaw(ctx, binding.Code, date)
	if err != nil {
		return r.failed(ctx, res, log, err), nil
	}
	raws, err := ad.Parse(page, binding.Code, date)
	if err != nil {
		return r.failed(ctx, res, log, err), nil
	}

	effectiveDate := normalize.EffectiveDate(raws, date)
	records, rowErrs := normalize.Normalize(binding.Code, effectiveDate, raws)
	for _, re := range rowErrs {
		res.RowErrors = append(res.RowErrors, re.Error())
	}
	if len(rowErrs) > 0 {
		log.Warnw("rows rejected during normalization", "count", len(rowErrs))
	}
	if len(records) == 0 {
		return r.failed(ctx, res, log, fmt.Errorf("no holdings for %s on %s", binding.Code, effectiveDate)), nil
	}

	snapshot := models.HoldingsSnapshot{
		InstrumentCode: binding.Code,
		Date:           effectiveDate,
		Records:        records,
	}

	if err := r.snapshots.UpsertInstruments(ctx, []models.Instrument{{
		Code:        binding.Code,
		Issuer:      ad.Issuer(),
		LastUpdated: r.now(),
	}}); err != nil {
		return r.failed(ctx, res, log, err), nil
	}

	prior, err := r.snapshots.ReadLatestBefore(ctx, binding.Code, effectiveDate)
	baseline := errors.Is(err, store.ErrNotFound)
	if err != nil && !baseline {
		return r.failed(ctx, res, log, err), nil
	}

	if err := r.snapshots.Write(ctx, snapshot); err != nil {
		return r.failed(ctx, res, log, err), nil
	}

	res.Holdings = len(records)
	if baseline {
		// First snapshot ever for this instrument: nothing to diff.
		res.Outcome = models.OutcomeBaseline
		log.Infow("baseline snapshot stored", "date", effectiveDate, "holdings", res.Holdings)
		return res, nil
	}

	cs := detect.Detect(prior, snapshot, r.weightThreshold)
	res.Outcome = models.OutcomeDone
	log.Infow("snapshot stored", "date", effectiveDate, "holdings", res.Holdings,
		"changes", len(cs.Records), "prior_date", prior.Date)
	return res, &cs
}

func (r *Runner) failed(ctx context.Context, res models.InstrumentResult, log *zap.SugaredLogger, err error) models.InstrumentResult {
	res.Error = err.Error()
	// A failure caused by the run deadline expiring is not the
	// instrument's fault; record it as skipped so one slow run does
	// not look like every issuer being down.
	if ctx.Err() != nil {
		res.Outcome = models.OutcomeSkipped
		log.Warnw("instrument skipped, run deadline expired", "error", err)
		return res
	}
	res.Outcome = models.OutcomeFailed
	log.Errorw("instrument failed", "error", err)
	return res
}
