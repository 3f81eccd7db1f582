package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// ErrNoStrategies is returned when a tournament has nothing to run.
var ErrNoStrategies = errors.New("no packing strategies registered")

// Recommendation heuristic weights.
const (
	recommendProfitWeight      = 0.6
	recommendUtilizationWeight = 0.3
	recommendSpeedWeight       = 0.1
)

// AlgorithmScore is one strategy's line in a tournament.
type AlgorithmScore struct {
	Algorithm        string          `json:"algorithm"`
	Score            float64         `json:"score"` // profit per millisecond
	Heuristic        float64         `json:"heuristic"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	CargoUtilization float64         `json:"cargo_utilization"`
	ExecutionMillis  float64         `json:"execution_ms"`
	Items            int             `json:"items"`
	Shipments        int             `json:"shipments"`
}

// TournamentResult compares every registered strategy on the same input.
type TournamentResult struct {
	Results         []PackingResult  `json:"results"`
	Scores          []AlgorithmScore `json:"scores"`
	Winner          string           `json:"winner"`
	BestProfit      string           `json:"best_profit"`
	BestUtilization string           `json:"best_utilization"`
	Fastest         string           `json:"fastest"`
	Recommended     string           `json:"recommended"`
	Recommendation  string           `json:"recommendation"`
}

// CompareAlgorithms runs all strategies in reg concurrently on in.
// The winner has the highest profit per millisecond; on equal scores the
// strategy registered first wins, and the same holds for every leader.
func CompareAlgorithms(ctx context.Context, reg *Registry, in PackingInput) (*TournamentResult, error) {
	strategies := reg.Strategies()
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}

	results := make([]PackingResult, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range strategies {
		g.Go(func() error {
			results[i] = s.Pack(gctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := &TournamentResult{Results: results, Scores: scoreResults(results)}
	t.Winner = leader(t.Scores, func(a, b AlgorithmScore) bool { return a.Score > b.Score })
	t.BestProfit = leader(t.Scores, func(a, b AlgorithmScore) bool { return a.TotalProfit.GreaterThan(b.TotalProfit) })
	t.BestUtilization = leader(t.Scores, func(a, b AlgorithmScore) bool { return a.CargoUtilization > b.CargoUtilization })
	t.Fastest = leader(t.Scores, func(a, b AlgorithmScore) bool { return a.ExecutionMillis < b.ExecutionMillis })
	t.Recommended = leader(t.Scores, func(a, b AlgorithmScore) bool { return a.Heuristic > b.Heuristic })
	t.Recommendation = recommendation(t)

	metrics.RecordTournamentWinner(t.Winner)
	return t, nil
}

func scoreResults(results []PackingResult) []AlgorithmScore {
	maxProfit := 0.0
	for _, r := range results {
		maxProfit = max(maxProfit, r.TotalProfit.InexactFloat64())
	}

	scores := make([]AlgorithmScore, len(results))
	for i, r := range results {
		ms := r.ExecutionMillis()
		profit := r.TotalProfit.InexactFloat64()

		h := recommendUtilizationWeight*r.CargoUtilization/100 +
			recommendSpeedWeight/(1+ms/1000)
		if maxProfit > 0 {
			h += recommendProfitWeight * profit / maxProfit
		}

		scores[i] = AlgorithmScore{
			Algorithm:        r.Algorithm,
			Score:            finite(profit / max(ms, 1)),
			Heuristic:        finite(h),
			TotalProfit:      r.TotalProfit,
			CargoUtilization: r.CargoUtilization,
			ExecutionMillis:  ms,
			Items:            len(r.Items),
			Shipments:        len(r.Shipments),
		}
	}
	return scores
}

// leader returns the first score that no later score strictly beats.
func leader(scores []AlgorithmScore, better func(a, b AlgorithmScore) bool) string {
	best := 0
	for i := 1; i < len(scores); i++ {
		if better(scores[i], scores[best]) {
			best = i
		}
	}
	return scores[best].Algorithm
}

func recommendation(t *TournamentResult) string {
	for _, s := range t.Scores {
		if s.Algorithm != t.Recommended {
			continue
		}
		if s.Items == 0 {
			return fmt.Sprintf("%s: no profitable shipment fits this budget", s.Algorithm)
		}
		return fmt.Sprintf("%s: %s ISK net profit over %d shipment(s), %.1f%% cargo utilization, %.0f ms",
			s.Algorithm, s.TotalProfit.StringFixed(2), s.Shipments, s.CargoUtilization, s.ExecutionMillis)
	}
	return ""
}
