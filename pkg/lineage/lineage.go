// Package lineage verifies that checkpoint records form a single unbroken,
// acyclic chain back to the genesis marker.
package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindstate-AI/sdk/pkg/ledger"
)

// DefaultMaxDepth bounds backward walks when the caller does not set one.
const DefaultMaxDepth = 4096

// ErrDepthExceeded is returned when a backward walk hits its depth bound
// before reaching genesis.
var ErrDepthExceeded = errors.New("lineage: max walk depth exceeded")

// GenesisError reports a first record whose predecessor is not the zero id.
type GenesisError struct {
	Got string
}

func (e *GenesisError) Error() string {
	return fmt.Sprintf("lineage: genesis predecessor is not zero: got %s", e.Got)
}

// BrokenError reports a record whose predecessor does not match the prior
// checkpoint's id.
type BrokenError struct {
	Index           int
	WantPredecessor string
	GotPredecessor  string
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("lineage: broken at index %d: predecessor %s, want %s",
		e.Index, e.GotPredecessor, e.WantPredecessor)
}

// CycleError reports a checkpoint id that repeated during a backward walk.
type CycleError struct {
	At string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("lineage: cycle detected at %s", e.At)
}

// Verify checks that records form one unbroken chain from genesis.
// Records must be ordered oldest-first. An empty sequence is valid; the
// first record's predecessor must be the zero id; each subsequent record's
// predecessor must equal the prior record's id, compared case-insensitively.
func Verify(records []ledger.CheckpointRecord) error {
	if len(records) == 0 {
		return nil
	}
	if !ledger.IsZeroID(records[0].PredecessorID) {
		return &GenesisError{Got: records[0].PredecessorID}
	}
	for i := 1; i < len(records); i++ {
		want := records[i-1].CheckpointID
		got := records[i].PredecessorID
		if ledger.NormalizeID(got) != ledger.NormalizeID(want) {
			return &BrokenError{Index: i, WantPredecessor: want, GotPredecessor: got}
		}
	}
	return nil
}

// Source resolves checkpoint records by id. ledger.Ledger satisfies it.
type Source interface {
	GetCheckpoint(ctx context.Context, checkpointID string) (*ledger.CheckpointRecord, error)
}

// Walker traverses a chain backward through an external record source.
// The visited set and depth bound guarantee termination even when the
// source is corrupted or adversarial.
type Walker struct {
	Source   Source
	MaxDepth int
}

// Walk follows predecessor links from fromID back to genesis and returns
// the records oldest-first, so the result feeds Verify directly.
func (w *Walker) Walk(ctx context.Context, fromID string) ([]ledger.CheckpointRecord, error) {
	maxDepth := w.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	visited := make(map[string]bool)
	var chain []ledger.CheckpointRecord

	id := fromID
	for {
		if len(chain) >= maxDepth {
			return nil, ErrDepthExceeded
		}
		key := ledger.NormalizeID(id)
		if visited[key] {
			return nil, &CycleError{At: id}
		}
		visited[key] = true

		rec, err := w.Source.GetCheckpoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lineage: walk %s: %w", id, err)
		}
		chain = append(chain, *rec)

		if ledger.IsZeroID(rec.PredecessorID) {
			break
		}
		id = rec.PredecessorID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
