// Package detect compares two holdings snapshots of the same instrument
// and produces an ordered change set. Pure comparison, no I/O.
package detect

import (
	"math"
	"sort"

	"github.com/etfwatch/etfwatch/pkg/models"
)

// Detect diffs current against prior. Every entry, exit, and share-count
// change is reported, down to a single share; weightThreshold only marks
// which records are significant, it never filters them out.
func Detect(prior, current models.HoldingsSnapshot, weightThreshold float64) models.ChangeSet {
	cs := models.ChangeSet{
		InstrumentCode: current.InstrumentCode,
		PriorDate:      prior.Date,
		CurrentDate:    current.Date,
	}

	priorIdx := prior.Index()
	currentIdx := current.Index()

	var added, modified, removed []models.ChangeRecord

	for code, cur := range currentIdx {
		before, held := priorIdx[code]
		if !held {
			added = append(added, entryRecord(cur, weightThreshold))
			continue
		}
		if cur.Shares == before.Shares {
			continue
		}
		modified = append(modified, modifiedRecord(before, cur, weightThreshold))
	}
	for code, before := range priorIdx {
		if _, held := currentIdx[code]; !held {
			removed = append(removed, exitRecord(before, weightThreshold))
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].SecurityCode < added[j].SecurityCode })
	sort.Slice(removed, func(i, j int) bool { return removed[i].SecurityCode < removed[j].SecurityCode })
	sort.Slice(modified, func(i, j int) bool {
		di, dj := math.Abs(modified[i].DeltaWeight), math.Abs(modified[j].DeltaWeight)
		if di != dj {
			return di > dj
		}
		return modified[i].SecurityCode < modified[j].SecurityCode
	})

	cs.Records = append(cs.Records, added...)
	cs.Records = append(cs.Records, modified...)
	cs.Records = append(cs.Records, removed...)
	return cs
}

func entryRecord(cur models.HoldingRecord, threshold float64) models.ChangeRecord {
	newShares := cur.Shares
	dw := weightOrZero(cur.Weight)
	return models.ChangeRecord{
		SecurityCode: cur.SecurityCode,
		SecurityName: cur.SecurityName,
		Kind:         models.ChangeAdded,
		NewShares:    &newShares,
		NewWeight:    cur.Weight,
		DeltaShares:  cur.Shares,
		DeltaWeight:  dw,
		Significant:  significant(dw, threshold),
	}
}

func exitRecord(before models.HoldingRecord, threshold float64) models.ChangeRecord {
	priorShares := before.Shares
	dw := -weightOrZero(before.Weight)
	return models.ChangeRecord{
		SecurityCode: before.SecurityCode,
		SecurityName: before.SecurityName,
		Kind:         models.ChangeRemoved,
		PriorShares:  &priorShares,
		PriorWeight:  before.Weight,
		DeltaShares:  -before.Shares,
		DeltaWeight:  dw,
		Significant:  significant(dw, threshold),
	}
}

func modifiedRecord(before, cur models.HoldingRecord, threshold float64) models.ChangeRecord {
	priorShares, newShares := before.Shares, cur.Shares
	dw := weightOrZero(cur.Weight) - weightOrZero(before.Weight)
	name := cur.SecurityName
	if name == "" {
		name = before.SecurityName
	}
	return models.ChangeRecord{
		SecurityCode: cur.SecurityCode,
		SecurityName: name,
		Kind:         models.ChangeModified,
		PriorShares:  &priorShares,
		NewShares:    &newShares,
		PriorWeight:  before.Weight,
		NewWeight:    cur.Weight,
		DeltaShares:  cur.Shares - before.Shares,
		DeltaWeight:  dw,
		Significant:  significant(dw, threshold),
	}
}

// significant is boundary-inclusive: a delta exactly at the threshold
// counts.
func significant(deltaWeight, threshold float64) bool {
	return math.Abs(deltaWeight) >= threshold
}

func weightOrZero(w *float64) float64 {
	if w == nil {
		return 0
	}
	return *w
}
