package seal

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Mindstate-AI/sdk/pkg/ledger"
	"github.com/Mindstate-AI/sdk/pkg/lineage"
	"github.com/Mindstate-AI/sdk/pkg/observability"
)

// TimelineOptions bounds a timeline reconstruction.
type TimelineOptions struct {
	// MaxDepth caps the backward walk. Zero applies lineage.DefaultMaxDepth.
	MaxDepth int

	// Concurrency above one re-reads every record in parallel after the walk
	// and fails if any record changed between reads. Checkpoints are
	// immutable, so the re-reads need no ordering.
	Concurrency int

	// RateLimit throttles the re-read fan-out when set.
	RateLimit *rate.Limiter

	// Obs traces the walk when set.
	Obs *observability.Provider
}

// Timeline walks the chain backward from headID, verifies the lineage, and
// returns the records oldest first. The walk is cycle-safe and depth-bounded,
// so it terminates against a corrupted or hostile record source.
func Timeline(ctx context.Context, l ledger.Ledger, headID string, opts TimelineOptions) (chain []ledger.CheckpointRecord, err error) {
	ctx, finish := opts.Obs.TrackOperation(ctx, "mindstate.timeline",
		observability.TimelineOperation(headID, opts.MaxDepth)...)
	defer func() { finish(err) }()

	walker := lineage.Walker{Source: l, MaxDepth: opts.MaxDepth}
	chain, err = walker.Walk(ctx, headID)
	if err != nil {
		return nil, err
	}

	if err = lineage.Verify(chain); err != nil {
		return nil, err
	}

	if opts.Concurrency > 1 {
		if err = recheckRecords(ctx, l, chain, opts); err != nil {
			return nil, err
		}
	}

	return chain, nil
}

// recheckRecords re-reads every walked record with bounded parallelism and
// confirms the source still serves the same bytes. A divergence means the
// source mutated a supposedly immutable checkpoint.
func recheckRecords(ctx context.Context, l ledger.Ledger, chain []ledger.CheckpointRecord, opts TimelineOptions) error {
	type readResult struct {
		index int
		err   error
	}

	results := make(chan readResult, len(chain))
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup

	for i := range chain {
		wg.Add(1)
		go func(idx int, want ledger.CheckpointRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if opts.RateLimit != nil {
				if err := opts.RateLimit.Wait(ctx); err != nil {
					results <- readResult{index: idx, err: err}
					return
				}
			}

			got, err := l.GetCheckpoint(ctx, want.CheckpointID)
			if err != nil {
				results <- readResult{index: idx, err: fmt.Errorf("seal: recheck %s: %w", want.CheckpointID, err)}
				return
			}
			if !sameRecord(got, &want) {
				results <- readResult{index: idx, err: fmt.Errorf("seal: checkpoint %s changed between reads", want.CheckpointID)}
				return
			}
			results <- readResult{index: idx}
		}(i, chain[i])
	}

	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

// sameRecord compares the immutable fields of two reads of one checkpoint.
func sameRecord(a, b *ledger.CheckpointRecord) bool {
	return ledger.NormalizeID(a.CheckpointID) == ledger.NormalizeID(b.CheckpointID) &&
		ledger.NormalizeID(a.PredecessorID) == ledger.NormalizeID(b.PredecessorID) &&
		ledger.NormalizeID(a.StateCommitment) == ledger.NormalizeID(b.StateCommitment) &&
		ledger.NormalizeID(a.CiphertextHash) == ledger.NormalizeID(b.CiphertextHash) &&
		a.CiphertextURI == b.CiphertextURI
}
