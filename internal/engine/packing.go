package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// Strategy names.
const (
	StrategyGreedy  = "greedy"
	StrategyOptimal = "optimal"
	StrategyHybrid  = "hybrid"
)

const (
	// packingFeeRate is the flat fee approximation used when packing: 4.5 % of
	// the unit spread. It is deliberately not the analyzer's per-leg fee model.
	packingFeeRate = 0.045
	// safeVolumeShare is the share of a week's traded volume one cycle may list.
	safeVolumeShare = 0.5
)

// PackingInput is the common input of every strategy.
type PackingInput struct {
	Opportunities []ArbitrageOpportunity
	Budget        decimal.Decimal // goods plus transport
	TransportCost decimal.Decimal // fixed cost per shipment
	CargoCapacity float64         // m³ per shipment; <= 0 uses DefaultCargoCapacity
}

// PackingStrategy selects item quantities for a sequence of shipments.
// Implementations never fail: infeasible input yields an empty result.
type PackingStrategy interface {
	Name() string
	Pack(ctx context.Context, in PackingInput) PackingResult
}

// candidate is an opportunity prepared for packing. Money is in integer cents:
// costs are rounded up and profits down so integer checks stay conservative.
type candidate struct {
	opp        *ArbitrageOpportunity
	unitCost   int64
	unitProfit int64
	unitVolume float64
	maxQty     int64
	efficiency float64 // profit cents per m³

	unitProfitISK decimal.Decimal
}

// placement is a quantity of one candidate in one shipment.
type placement struct {
	cand int
	qty  int64
}

// fillFunc fills one shipment. remaining is the quantity still available per
// candidate; goods is the cent budget left for goods after this shipment's
// transport is reserved.
type fillFunc func(remaining []int64, goods int64, capacity float64) []placement

func ceilCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Ceil().IntPart()
}

func floorCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Floor().IntPart()
}

// SafeQuantity caps an opportunity at half a week's traded volume at the
// destination. Unknown weekly volume leaves the opportunity's own quantity.
func SafeQuantity(opp *ArbitrageOpportunity) int64 {
	if opp.WeeklyVolume <= 0 {
		return opp.Quantity
	}
	safe := int64(math.Floor(float64(opp.WeeklyVolume) * safeVolumeShare))
	return min(safe, opp.Quantity)
}

// PackingUnitProfit is the per-unit profit the packers optimise:
// spread × (1 − 4.5 %).
func PackingUnitProfit(opp *ArbitrageOpportunity) decimal.Decimal {
	spread := opp.Sell.Price.Sub(opp.Buy.Price)
	return spread.Mul(decimal.NewFromFloat(1 - packingFeeRate))
}

// prepareCandidates drops anything that cannot be packed and orders the rest by
// efficiency, highest first, input order breaking ties.
func prepareCandidates(opps []ArbitrageOpportunity, capacity float64) []candidate {
	out := make([]candidate, 0, len(opps))
	for i := range opps {
		opp := &opps[i]
		if opp.ItemVolume <= 0 || opp.ItemVolume > capacity {
			continue
		}
		qty := SafeQuantity(opp)
		if qty <= 0 {
			continue
		}
		profitISK := PackingUnitProfit(opp)
		c := candidate{
			opp:           opp,
			unitCost:      ceilCents(opp.Buy.Price),
			unitProfit:    floorCents(profitISK),
			unitVolume:    opp.ItemVolume,
			maxQty:        qty,
			unitProfitISK: profitISK,
		}
		if c.unitCost <= 0 || c.unitProfit <= 0 {
			continue
		}
		c.efficiency = float64(c.unitProfit) / c.unitVolume
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].efficiency > out[j].efficiency })
	return out
}

// fitUnits is the largest quantity of unitVolume that fits in cargoLeft.
func fitUnits(cargoLeft, unitVolume float64) int64 {
	if cargoLeft <= 0 {
		return 0
	}
	q := int64(math.Floor(cargoLeft / unitVolume))
	for q > 0 && float64(q)*unitVolume > cargoLeft {
		q--
	}
	return q
}

// maxPlaceable bounds a candidate by stock, cargo and money.
func maxPlaceable(c *candidate, remaining, goods int64, cargoLeft float64) int64 {
	if remaining <= 0 || goods <= 0 {
		return 0
	}
	return min(remaining, fitUnits(cargoLeft, c.unitVolume), goods/c.unitCost)
}

// settle splits transport evenly over the placed items and drops every item
// that is not profitable after its share, repeating until the set is stable.
func settle(cands []candidate, placed []placement, transport int64) []placement {
	for len(placed) > 0 {
		share := (transport + int64(len(placed)) - 1) / int64(len(placed))
		kept := make([]placement, 0, len(placed))
		for _, p := range placed {
			if p.qty*cands[p.cand].unitProfit-share > 0 {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(placed) {
			return kept
		}
		placed = kept
	}
	return nil
}

// settledNet is the shipment's profit after transport, in cents.
func settledNet(cands []candidate, placed []placement, transport int64) int64 {
	if len(placed) == 0 {
		return 0
	}
	net := -transport
	for _, p := range placed {
		net += p.qty * cands[p.cand].unitProfit
	}
	return net
}

// fillShipment fills and settles one shipment. Items settle drops are withheld
// and the hold is filled again with the rest, so their cargo is not wasted.
// The best settled attempt wins.
func fillShipment(cands []candidate, remaining []int64, goods int64, capacity float64, transport int64, fill fillFunc) []placement {
	avail := slices.Clone(remaining)
	var best []placement
	var bestNet int64
	for {
		placed := fill(avail, goods, capacity)
		if len(placed) == 0 {
			return best
		}
		kept := settle(cands, placed, transport)
		if net := settledNet(cands, kept, transport); net > bestNet {
			best, bestNet = kept, net
		}
		if len(kept) == len(placed) {
			return best
		}
		// Every pass withholds at least one candidate, so this terminates.
		for _, p := range placed {
			if !slices.Contains(kept, p) {
				avail[p.cand] = 0
			}
		}
	}
}

// packShipments runs the shipment loop every strategy shares: reserve
// transport, fill and settle, commit, repeat until nothing more is placed.
func packShipments(ctx context.Context, name string, cands []candidate, in PackingInput, fill fillFunc) PackingResult {
	capacity := capacityOrDefault(in.CargoCapacity)
	budget := floorCents(in.Budget)
	transport := ceilCents(in.TransportCost)

	remaining := make([]int64, len(cands))
	for i := range cands {
		remaining[i] = cands[i].maxQty
	}

	var shipments [][]placement
	for ctx.Err() == nil {
		goods := budget - transport
		if goods <= 0 {
			break
		}
		placed := fillShipment(cands, remaining, goods, capacity, transport, fill)
		if len(placed) == 0 {
			break
		}
		for _, p := range placed {
			remaining[p.cand] -= p.qty
			budget -= p.qty * cands[p.cand].unitCost
		}
		budget -= transport
		shipments = append(shipments, placed)
	}
	return buildResult(name, cands, shipments, in.TransportCost, capacity)
}

// buildResult converts cent-level placements into the decimal result.
func buildResult(name string, cands []candidate, shipments [][]placement, transport decimal.Decimal, capacity float64) PackingResult {
	res := PackingResult{
		Algorithm:      name,
		Items:          []PackedItem{},
		Shipments:      []Shipment{},
		TotalCost:      decimal.Zero,
		TotalTransport: decimal.Zero,
		TotalProfit:    decimal.Zero,
	}
	for idx, placed := range shipments {
		share := transport.Div(decimal.NewFromInt(int64(len(placed))))
		sh := Shipment{Index: idx, Items: len(placed), TransportCost: transport, Cost: decimal.Zero, NetProfit: decimal.Zero}
		for _, p := range placed {
			c := &cands[p.cand]
			q := decimal.NewFromInt(p.qty)
			profit := c.unitProfitISK.Mul(q)
			item := PackedItem{
				Opportunity:    c.opp,
				Shipment:       idx,
				Quantity:       p.qty,
				TotalCost:      c.opp.Buy.Price.Mul(q),
				TotalCargo:     float64(p.qty) * c.unitVolume,
				Profit:         profit,
				TransportShare: share,
				NetProfit:      profit.Sub(share),
			}
			sh.Cargo += item.TotalCargo
			sh.Cost = sh.Cost.Add(item.TotalCost)
			sh.NetProfit = sh.NetProfit.Add(item.NetProfit)
			res.Items = append(res.Items, item)
		}
		res.Shipments = append(res.Shipments, sh)
		res.TotalCost = res.TotalCost.Add(sh.Cost)
		res.TotalTransport = res.TotalTransport.Add(transport)
		res.TotalProfit = res.TotalProfit.Add(sh.NetProfit)
		res.TotalCargo += sh.Cargo
	}
	if n := len(res.Shipments); n > 0 {
		res.CargoUtilization = res.TotalCargo / (float64(n) * capacity) * 100
	}
	return res
}

// timed runs a strategy's pack body and stamps its wall-clock time.
func timed(name string, body func() PackingResult) PackingResult {
	start := time.Now()
	res := body()
	res.ExecutionTime = time.Since(start)
	metrics.ObservePacking(name, res.ExecutionTime, len(res.Items))
	return res
}

// Registry holds strategies in registration order.
type Registry struct {
	ordered []PackingStrategy
	byName  map[string]PackingStrategy
}

// NewRegistry registers strategies in the given order. Later duplicates of a
// name replace the earlier entry's lookup but keep its position.
func NewRegistry(strategies ...PackingStrategy) *Registry {
	r := &Registry{byName: make(map[string]PackingStrategy, len(strategies))}
	for _, s := range strategies {
		if _, ok := r.byName[s.Name()]; !ok {
			r.ordered = append(r.ordered, s)
		}
		r.byName[s.Name()] = s
	}
	return r
}

// DefaultRegistry registers greedy, optimal and hybrid, in that order.
func DefaultRegistry(settings Settings) *Registry {
	settings = settings.withDefaults()
	return NewRegistry(
		GreedyStrategy{},
		OptimalStrategy{TimeBudget: settings.OptimalTimeBudget, MaxCandidates: settings.OptimalMaxCandidates},
		HybridStrategy{},
	)
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (PackingStrategy, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Strategies returns the registered strategies in registration order.
func (r *Registry) Strategies() []PackingStrategy {
	out := make([]PackingStrategy, len(r.ordered))
	for i, s := range r.ordered {
		out[i] = r.byName[s.Name()]
	}
	return out
}

// Names lists the registered strategy names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.ordered))
	for i, s := range r.ordered {
		out[i] = s.Name()
	}
	return out
}
