package models

import "time"

// InstrumentOutcome is the terminal state of one instrument's pipeline
// within a run.
type InstrumentOutcome string

const (
	OutcomeDone     InstrumentOutcome = "done"     // stored and diffed
	OutcomeBaseline InstrumentOutcome = "baseline" // stored, no prior snapshot to diff against
	OutcomeFailed   InstrumentOutcome = "failed"
	OutcomeSkipped  InstrumentOutcome = "skipped" // run deadline hit before this pipeline started
)

// InstrumentResult records what happened to a single instrument.
type InstrumentResult struct {
	Code      string            `json:"code"`
	Adapter   string            `json:"adapter"`
	Outcome   InstrumentOutcome `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	Holdings  int               `json:"holdings"`             // rows stored
	RowErrors []string          `json:"row_errors,omitempty"` // rows dropped or flagged by the normalizer
}

// RunResult is the aggregate outcome of one pipeline run, handed to the
// reporting collaborator together with the change sets.
type RunResult struct {
	RunID       string             `json:"run_id"`
	Date        string             `json:"date"` // YYYY-MM-DD
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Instruments []InstrumentResult `json:"instruments"`
	ChangeSets  []ChangeSet        `json:"change_sets"`
}
