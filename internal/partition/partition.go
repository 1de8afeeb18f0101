// Package partition converts a flat test list with duration estimates into an
// ordered sequence of balanced batches.
//
// Tests are spread across N per-agent load accumulators with the classic LPT
// greedy heuristic (largest first to the least-loaded accumulator), then each
// accumulator's share is cut into guided-self-scheduling chunks: large batches
// up front, progressively smaller ones toward the tail, so a late-finishing
// agent can pick up very granular leftover work. Batches from all accumulators
// are interleaved round-robin into one sequence, so any subset of agents
// pulling in order preserves the balance.
package partition

import (
	"sort"
	"time"

	"github.com/seantiz/splay/internal/model"
)

// DefaultChunkFactor is the guided-chunking tuning constant K. Chunk size for
// an accumulator is ceil(remaining / (K*N)).
const DefaultChunkFactor = 2

// Partitioner builds batch sequences for a given agent count.
type Partitioner struct {
	agents      int
	chunkFactor int
}

// New creates a Partitioner for the given number of agents. Non-positive
// values are clamped.
func New(agents, chunkFactor int) *Partitioner {
	if agents < 1 {
		agents = 1
	}
	if chunkFactor < 1 {
		chunkFactor = DefaultChunkFactor
	}
	return &Partitioner{agents: agents, chunkFactor: chunkFactor}
}

// Partition produces the ordered batch sequence for one run. The multiset of
// test ids across all batches equals the input exactly. An empty input yields
// an empty sequence.
func (p *Partitioner) Partition(runID string, tests []model.TestCase) []*model.Batch {
	if len(tests) == 0 {
		return nil
	}

	lanes := p.assign(tests)
	chunked := make([][][]model.TestCase, len(lanes))
	for i, lane := range lanes {
		chunked[i] = p.chunk(lane)
	}

	return interleave(runID, chunked)
}

// assign runs the LPT greedy pass: tests sorted by descending estimate, each
// placed on the accumulator with the smallest running total. The resulting max
// load is within 4/3 - 1/(3N) of optimal.
func (p *Partitioner) assign(tests []model.TestCase) [][]model.TestCase {
	sorted := make([]model.TestCase, len(tests))
	copy(sorted, tests)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EstimatedDurationMS != sorted[j].EstimatedDurationMS {
			return sorted[i].EstimatedDurationMS > sorted[j].EstimatedDurationMS
		}
		return sorted[i].ID < sorted[j].ID
	})

	lanes := make([][]model.TestCase, p.agents)
	loads := make([]int64, p.agents)

	for _, tc := range sorted {
		min := 0
		for k := 1; k < p.agents; k++ {
			if loads[k] < loads[min] {
				min = k
			}
		}
		lanes[min] = append(lanes[min], tc)
		loads[min] += tc.EstimatedDurationMS
	}

	return lanes
}

// chunk cuts one accumulator's assigned tests into guided-self-scheduling
// chunks: chunk size is ceil(remaining/(K*N)), never below one test.
func (p *Partitioner) chunk(lane []model.TestCase) [][]model.TestCase {
	var chunks [][]model.TestCase
	for len(lane) > 0 {
		size := (len(lane) + p.chunkFactor*p.agents - 1) / (p.chunkFactor * p.agents)
		if size < 1 {
			size = 1
		}
		if size > len(lane) {
			size = len(lane)
		}
		chunks = append(chunks, lane[:size])
		lane = lane[size:]
	}
	return chunks
}

// interleave merges per-accumulator chunk lists round-robin into one batch
// sequence and assigns sequence numbers.
func interleave(runID string, chunked [][][]model.TestCase) []*model.Batch {
	now := time.Now().UTC()
	var batches []*model.Batch

	for round := 0; ; round++ {
		emitted := false
		for _, lane := range chunked {
			if round >= len(lane) {
				continue
			}
			emitted = true
			chunk := lane[round]

			ids := make([]string, len(chunk))
			var total int64
			for i, tc := range chunk {
				ids[i] = tc.ID
				total += tc.EstimatedDurationMS
			}

			batches = append(batches, &model.Batch{
				ID:                  model.NewID(),
				RunID:               runID,
				Seq:                 len(batches),
				TestIDs:             ids,
				EstimatedDurationMS: total,
				State:               model.BatchPending,
				CreatedAt:           now,
			})
		}
		if !emitted {
			break
		}
	}

	return batches
}
