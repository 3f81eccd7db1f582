package engine

// Confidence is a categorical risk class for an opportunity.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	freshOrderHours = 2.0
	staleOrderHours = 12.0
	shallowDepth    = 0.5
	deepDepth       = 0.8
)

// ClassifyConfidence grades an opportunity by order freshness and by how much of
// the thinner side's volume the trade consumes. Low wins over high: a stale
// order or a deep fill is low even if the other signal looks fine. Every input
// maps to exactly one class; a side with no volume counts as fully consumed.
func ClassifyConfidence(buyAgeHours, sellAgeHours float64, quantity int64, buyVolume, sellVolume int64) Confidence {
	smaller := min(buyVolume, sellVolume)
	depth := 1.0
	if smaller > 0 {
		depth = float64(quantity) / float64(smaller)
	}

	switch {
	case buyAgeHours > staleOrderHours || sellAgeHours > staleOrderHours || depth > deepDepth:
		return ConfidenceLow
	case buyAgeHours < freshOrderHours && sellAgeHours < freshOrderHours && depth <= shallowDepth:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}
