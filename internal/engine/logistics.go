package engine

import "math"

// LogisticsCalculation describes how a quantity of one item ships in containers.
type LogisticsCalculation struct {
	RecommendedQuantity  int64   `json:"recommended_quantity"`
	UnitVolume           float64 `json:"unit_volume"`
	TotalVolume          float64 `json:"total_volume"`
	MaxUnitsPerContainer int64   `json:"max_units_per_container"`
	ShipmentsNeeded      int64   `json:"shipments_needed"`
	WastedSpace          float64 `json:"wasted_space"`
	CargoEfficiency      float64 `json:"cargo_efficiency"` // % of booked container space used
}

// CalculateLogistics computes container usage for quantity units of unitVolume m³
// each. A capacity <= 0 uses DefaultCargoCapacity. Items larger than one
// container cannot ship: MaxUnitsPerContainer and ShipmentsNeeded are zero.
func CalculateLogistics(unitVolume float64, quantity int64, capacity float64) LogisticsCalculation {
	if capacity <= 0 {
		capacity = DefaultCargoCapacity
	}
	lc := LogisticsCalculation{
		RecommendedQuantity: quantity,
		UnitVolume:          unitVolume,
		TotalVolume:         unitVolume * float64(quantity),
	}
	if unitVolume <= 0 || quantity <= 0 {
		return lc
	}

	lc.MaxUnitsPerContainer = int64(math.Floor(capacity / unitVolume))
	if lc.MaxUnitsPerContainer <= 0 {
		return lc
	}
	lc.ShipmentsNeeded = (quantity + lc.MaxUnitsPerContainer - 1) / lc.MaxUnitsPerContainer

	booked := float64(lc.ShipmentsNeeded) * capacity
	lc.WastedSpace = math.Max(0, booked-lc.TotalVolume)
	lc.CargoEfficiency = lc.TotalVolume / booked * 100
	return lc
}
