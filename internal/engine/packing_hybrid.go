package engine

import (
	"context"
	"sort"
)

// DefaultHybridEfficiencyShare is the part of each hold filled efficiency-first.
const DefaultHybridEfficiencyShare = 0.8

// HybridStrategy fills each shipment in two phases: the first EfficiencyShare
// of the hold by profit per m³, the rest by absolute profit from candidates
// the first phase did not pick.
type HybridStrategy struct {
	EfficiencyShare float64
}

func (HybridStrategy) Name() string { return StrategyHybrid }

func (h HybridStrategy) Pack(ctx context.Context, in PackingInput) PackingResult {
	share := h.EfficiencyShare
	if share <= 0 || share > 1 {
		share = DefaultHybridEfficiencyShare
	}

	return timed(h.Name(), func() PackingResult {
		cands := prepareCandidates(in.Opportunities, capacityOrDefault(in.CargoCapacity))
		byEfficiency := efficiencyOrder(cands)
		byProfit := profitOrder(cands)

		return packShipments(ctx, h.Name(), cands, in, func(remaining []int64, goods int64, capacity float64) []placement {
			first := fillInOrder(cands, byEfficiency, remaining, nil, goods, capacity*share)

			chosen := make(map[int]bool, len(first))
			cargo := 0.0
			for _, p := range first {
				chosen[p.cand] = true
				cargo += float64(p.qty) * cands[p.cand].unitVolume
				goods -= p.qty * cands[p.cand].unitCost
			}
			second := fillInOrder(cands, byProfit, remaining, chosen, goods, capacity-cargo)
			return append(first, second...)
		})
	})
}

// profitOrder ranks candidates by the total profit of their full quantity.
func profitOrder(cands []candidate) []int {
	order := efficiencyOrder(cands)
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := &cands[order[a]], &cands[order[b]]
		return float64(ca.unitProfit)*float64(ca.maxQty) > float64(cb.unitProfit)*float64(cb.maxQty)
	})
	return order
}
