package models

// ChangeKind classifies one detected difference between two snapshots.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "ADDED"
	ChangeRemoved  ChangeKind = "REMOVED"
	ChangeModified ChangeKind = "MODIFIED"
)

// ChangeRecord is one classified difference for a single security.
// Prior fields are nil for Added records, New fields are nil for Removed.
// A missing weight counts as zero for the delta but the raw nullable
// values are kept for display.
type ChangeRecord struct {
	SecurityCode string     `json:"security_code"`
	SecurityName string     `json:"security_name"`
	Kind         ChangeKind `json:"kind"`

	PriorShares *int64   `json:"prior_shares,omitempty"`
	NewShares   *int64   `json:"new_shares,omitempty"`
	PriorWeight *float64 `json:"prior_weight,omitempty"`
	NewWeight   *float64 `json:"new_weight,omitempty"`

	DeltaShares int64   `json:"delta_shares"`
	DeltaWeight float64 `json:"delta_weight"`
	Significant bool    `json:"significant"`
}

// ChangeSet is every ChangeRecord for one instrument between two dates.
// Record order is a presentation contract: Added first, then Modified by
// descending absolute weight delta, then Removed.
type ChangeSet struct {
	InstrumentCode string         `json:"instrument_code"`
	PriorDate      string         `json:"prior_date"`
	CurrentDate    string         `json:"current_date"`
	Records        []ChangeRecord `json:"records"`
}

// Empty reports whether the change set contains no differences.
func (cs ChangeSet) Empty() bool { return len(cs.Records) == 0 }

// CountByKind returns how many records carry the given kind.
func (cs ChangeSet) CountByKind(kind ChangeKind) int {
	n := 0
	for _, r := range cs.Records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
