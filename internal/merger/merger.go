// Package merger implements the Fair Merger: a weighted round-robin
// fan-in of several chunk.PanelistStream values into one re-sequenced
// chunk.MergedChunk stream, bounding how long any one panelist can be
// starved.
//
// The weighting idea (priority scaled by how much of the recent output
// a panelist has already taken) is grounded in the teacher's
// internal/multiagent/capability_router.go load-tracking fields
// (agentLoad, LoadBalanceStrategy); the actual multi-channel fan-in loop
// is grounded in internal/agent/event_sink.go's mergeLoop select-based
// shape.
package merger

import (
	"context"
	"sync"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config bounds how many consecutive chunks the merger may take from one
// panelist before it must consider a lower-priority one, per spec.md's
// starvation-bound requirement.
type Config struct {
	MaxConsecutive int
}

// DefaultConfig takes a single chunk from a panelist before the merger
// re-evaluates weights. A mid-flight tool_use/tool_result pair overrides
// the bound: the owning panelist drains without interruption until its
// tool_result has been emitted.
func DefaultConfig() Config {
	return Config{MaxConsecutive: 1}
}

type panelistState struct {
	id          string
	displayName string
	priority    int
	ch          <-chan chunk.DomainChunk
	recentTaken int
	totalTaken  int
	toolPending bool
	done        bool
}

// Merger fans multiple PanelistStreams into one ordered MergedChunk
// stream.
type Merger struct {
	cfg Config
}

// New constructs a Merger.
func New(cfg Config) *Merger {
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = DefaultConfig().MaxConsecutive
	}
	return &Merger{cfg: cfg}
}

// Run fans the given panelist streams into a single channel, closing it
// once every panelist stream has closed. Each panelist's own Seq is
// preserved as OriginalSeq while a new stream-wide Seq is assigned in
// merge order.
func (m *Merger) Run(ctx context.Context, panelists []chunk.PanelistStream) <-chan chunk.MergedChunk {
	out := make(chan chunk.MergedChunk, 32)

	go func() {
		defer close(out)

		states := make([]*panelistState, len(panelists))
		for i, p := range panelists {
			states[i] = &panelistState{id: p.PanelistID, displayName: p.DisplayName, priority: p.Priority, ch: p.Chunks}
			if states[i].priority <= 0 {
				states[i].priority = 1
			}
		}

		// fanIn merges every panelist's channel into one internal channel
		// tagged with its origin, so the selection loop below can apply
		// weighting without a select statement whose case count depends on
		// runtime panelist count.
		type tagged struct {
			panelistIdx int
			c           chunk.DomainChunk
			ok          bool
		}
		tagCh := make(chan tagged)
		var wg sync.WaitGroup
		for i, s := range states {
			wg.Add(1)
			go func(i int, s *panelistState) {
				defer wg.Done()
				for c := range s.ch {
					select {
					case tagCh <- tagged{panelistIdx: i, c: c, ok: true}:
					case <-ctx.Done():
						return
					}
				}
			}(i, s)
		}
		go func() {
			wg.Wait()
			close(tagCh)
		}()

		var seq uint64
		pending := make(map[int][]chunk.DomainChunk)
		remaining := len(states)

		take := func(idx int) {
			queue := pending[idx]
			c := queue[0]
			pending[idx] = queue[1:]

			states[idx].recentTaken++
			states[idx].totalTaken++
			for j := range states {
				if j != idx {
					states[j].recentTaken = 0
				}
			}
			switch c.Kind {
			case chunk.KindToolUse:
				states[idx].toolPending = true
			case chunk.KindToolResult:
				states[idx].toolPending = false
			}

			out <- chunk.MergedChunk{
				DomainChunk: withSeq(c, seq),
				PanelistID:  states[idx].id,
				DisplayName: states[idx].displayName,
				OriginalSeq: c.Seq,
			}
			seq++

			if c.Kind.Terminal() {
				states[idx].done = true
				states[idx].toolPending = false
				remaining = countActive(states)
			}
		}

		for remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case t, open := <-tagCh:
				if !open {
					// No further input will ever arrive; drain whatever is
					// buffered, overriding any tool-pair hold whose result
					// is never coming.
					for hasPending(pending) {
						idx := m.choose(states, pending)
						if idx < 0 {
							idx = anyPending(pending)
						}
						take(idx)
					}
					remaining = 0
					continue
				}
				pending[t.panelistIdx] = append(pending[t.panelistIdx], t.c)
			}

			// Drain whatever is queued, applying the weighted/starvation-
			// bounded choice each step until nothing is left buffered or a
			// mid-flight tool pair is waiting on its result.
			for hasPending(pending) {
				idx := m.choose(states, pending)
				if idx < 0 {
					break
				}
				take(idx)
			}
		}

		// Every panelist stream has terminated (or the fan-in closed with
		// none ready). Emit the single synthesized terminal chunk spec.md
		// §4.6 requires so a consumer of the merged stream sees exactly one
		// Final event regardless of how many panelists contributed.
		out <- chunk.MergedChunk{
			DomainChunk: chunk.DomainChunk{Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn, Seq: seq},
			Final:       true,
		}
	}()

	return out
}

func hasPending(pending map[int][]chunk.DomainChunk) bool {
	for _, q := range pending {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// anyPending returns the smallest index with buffered chunks, for the
// final drain where choose's hold no longer applies. Callers only
// invoke it when hasPending is true.
func anyPending(pending map[int][]chunk.DomainChunk) int {
	best := -1
	for i, q := range pending {
		if len(q) > 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func countActive(states []*panelistState) int {
	n := 0
	for _, s := range states {
		if !s.done {
			n++
		}
	}
	return n
}

// choose picks the pending-nonempty panelist with the highest
// priority*(1-recentShare) weight, forcing a switch away from any
// panelist that has already taken MaxConsecutive chunks in a row even if
// it would otherwise win on weight — the starvation bound.
//
// A panelist whose tool_use has been emitted but whose tool_result has
// not drains alone: it is chosen unconditionally while it has chunks
// buffered, and when it has none choose returns -1 so the caller waits
// rather than letting another panelist's chunks land between the pair.
func (m *Merger) choose(states []*panelistState, pending map[int][]chunk.DomainChunk) int {
	for i, s := range states {
		if s.toolPending && !s.done {
			if len(pending[i]) > 0 {
				return i
			}
			return -1
		}
	}

	best := -1
	var bestWeight float64

	for i, s := range states {
		if len(pending[i]) == 0 {
			continue
		}
		if s.recentTaken >= m.cfg.MaxConsecutive {
			continue
		}
		w := weight(s)
		if best < 0 || w > bestWeight {
			best = i
			bestWeight = w
		}
	}

	if best >= 0 {
		return best
	}

	// Every contender with pending work has hit the starvation bound;
	// pick whichever pending panelist has taken the fewest chunks so far
	// to force rotation.
	for i, s := range states {
		if len(pending[i]) == 0 {
			continue
		}
		if best < 0 || s.recentTaken < states[best].recentTaken {
			best = i
		}
	}
	return best
}

func weight(s *panelistState) float64 {
	total := s.totalTaken
	if total == 0 {
		return float64(s.priority)
	}
	recentShare := float64(s.recentTaken) / float64(total+1)
	return float64(s.priority) * (1 - recentShare)
}

func withSeq(c chunk.DomainChunk, seq uint64) chunk.DomainChunk {
	c.Seq = seq
	return c
}
