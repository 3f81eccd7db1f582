package engine

import "context"

// GreedyStrategy fills one shipment at a time in profit-per-m³ order.
type GreedyStrategy struct{}

func (GreedyStrategy) Name() string { return StrategyGreedy }

func (g GreedyStrategy) Pack(ctx context.Context, in PackingInput) PackingResult {
	return timed(g.Name(), func() PackingResult {
		cands := prepareCandidates(in.Opportunities, capacityOrDefault(in.CargoCapacity))
		order := efficiencyOrder(cands)
		return packShipments(ctx, g.Name(), cands, in, func(remaining []int64, goods int64, capacity float64) []placement {
			return fillInOrder(cands, order, remaining, nil, goods, capacity)
		})
	})
}

func capacityOrDefault(c float64) float64 {
	if c <= 0 {
		return DefaultCargoCapacity
	}
	return c
}

// efficiencyOrder is the candidate order prepareCandidates already produced.
func efficiencyOrder(cands []candidate) []int {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	return order
}

// fillInOrder places as much of each candidate as fits, walking order once.
// Candidates marked in skip are passed over.
func fillInOrder(cands []candidate, order []int, remaining []int64, skip map[int]bool, goods int64, cargoLeft float64) []placement {
	var placed []placement
	for _, i := range order {
		if skip[i] {
			continue
		}
		q := maxPlaceable(&cands[i], remaining[i], goods, cargoLeft)
		if q <= 0 {
			continue
		}
		placed = append(placed, placement{cand: i, qty: q})
		goods -= q * cands[i].unitCost
		cargoLeft -= float64(q) * cands[i].unitVolume
	}
	return placed
}
