package engine

import (
	"context"
	"time"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// OptimalStrategy packs each shipment with an exhaustive bounded-knapsack
// search over the most efficient candidates. The search has a soft deadline:
// when TimeBudget runs out the best combination found so far is used and no
// further shipments are opened.
type OptimalStrategy struct {
	TimeBudget    time.Duration
	MaxCandidates int
}

func (OptimalStrategy) Name() string { return StrategyOptimal }

func (o OptimalStrategy) Pack(ctx context.Context, in PackingInput) PackingResult {
	budget := o.TimeBudget
	if budget <= 0 {
		budget = DefaultOptimalTimeBudget
	}
	maxCands := o.MaxCandidates
	if maxCands <= 0 {
		maxCands = DefaultOptimalMaxCandidates
	}

	return timed(o.Name(), func() PackingResult {
		start := time.Now()
		deadline := start.Add(budget)

		cands := prepareCandidates(in.Opportunities, capacityOrDefault(in.CargoCapacity))
		if len(cands) > maxCands {
			cands = cands[:maxCands]
		}

		transport := ceilCents(in.TransportCost)
		stats := &SearchStats{}
		res := packShipments(ctx, o.Name(), cands, in, func(remaining []int64, goods int64, capacity float64) []placement {
			if stats.TimedOut || time.Now().After(deadline) {
				stats.TimedOut = true
				return nil
			}
			s := newSearchState(cands, remaining, transport, deadline)
			s.search(0, capacity, goods)
			stats.Nodes += s.nodes
			stats.Pruned += s.pruned
			stats.TimedOut = stats.TimedOut || s.timedOut
			return s.placements()
		})

		stats.BudgetFraction = float64(time.Since(start)) / float64(budget)
		res.Search = stats
		metrics.ObserveSearch(stats.BudgetFraction, stats.TimedOut)
		return res
	})
}

// searchState is the explicit state of one shipment's depth-first search.
// Candidates must be in descending efficiency order for the bound to hold.
// Combinations are scored after the transport split, so bestProfit is the
// settled net of best and every quantity in best survives settle.
type searchState struct {
	cands     []candidate
	limit     []int64
	transport int64
	deadline  time.Time

	current    []int64
	profit     int64
	best       []int64
	bestProfit int64
	scratch    []placement

	nodes    int64
	pruned   int64
	timedOut bool
}

func newSearchState(cands []candidate, limit []int64, transport int64, deadline time.Time) *searchState {
	return &searchState{
		cands:     cands,
		limit:     limit,
		transport: transport,
		deadline:  deadline,
		current:   make([]int64, len(cands)),
		best:      make([]int64, len(cands)),
		scratch:   make([]placement, 0, len(cands)),
	}
}

// bound is an upper limit on the profit before transport reachable from
// candidate i onward with profit already earned and cargoLeft free: the
// fractional knapsack over the remaining stock, most efficient first.
func (s *searchState) bound(i int, profit int64, cargoLeft float64) float64 {
	b := float64(profit)
	for j := i; j < len(s.cands) && cargoLeft > 0; j++ {
		c := &s.cands[j]
		take := min(float64(s.limit[j]), cargoLeft/c.unitVolume)
		b += take * float64(c.unitProfit)
		cargoLeft -= take * c.unitVolume
	}
	return b
}

// record scores the current combination after settle and keeps it when it
// beats the best so far.
func (s *searchState) record() {
	placed := s.scratch[:0]
	for i, q := range s.current {
		if q > 0 {
			placed = append(placed, placement{cand: i, qty: q})
		}
	}
	kept := settle(s.cands, placed, s.transport)
	net := settledNet(s.cands, kept, s.transport)
	if net <= s.bestProfit {
		return
	}
	s.bestProfit = net
	clear(s.best)
	for _, p := range kept {
		s.best[p.cand] = p.qty
	}
}

// search tries every quantity of candidate i, largest first, then recurses.
// The deadline is checked on every call.
func (s *searchState) search(i int, cargoLeft float64, goods int64) {
	s.nodes++
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.timedOut = true
		return
	}
	if s.profit-s.transport > s.bestProfit {
		s.record()
	}
	if i == len(s.cands) {
		return
	}

	c := &s.cands[i]
	for q := maxPlaceable(c, s.limit[i], goods, cargoLeft); q >= 0; q-- {
		if s.timedOut {
			break
		}
		gain := q * c.unitProfit
		childCargo := cargoLeft - float64(q)*c.unitVolume
		// The bound only shrinks as q drops, so the first prune ends the loop.
		if s.bound(i+1, s.profit+gain, childCargo)-float64(s.transport) <= float64(s.bestProfit) {
			s.pruned++
			break
		}
		s.current[i] = q
		s.profit += gain
		s.search(i+1, childCargo, goods-q*c.unitCost)
		s.profit -= gain
	}
	s.current[i] = 0
}

func (s *searchState) placements() []placement {
	var out []placement
	for i, q := range s.best {
		if q > 0 {
			out = append(out, placement{cand: i, qty: q})
		}
	}
	return out
}
