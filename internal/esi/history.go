package esi

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// HistoryEntry is one day of ESI market history for a type in a region.
type HistoryEntry struct {
	Date       string  `json:"date"`
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	Volume     int64   `json:"volume"`
	OrderCount int64   `json:"order_count"`
}

// MarketStats holds trade statistics derived from market history.
type MarketStats struct {
	WeeklyVolume int64   // units traded over the last 7 days
	DailyVolume  int64   // WeeklyVolume / 7, rounded down
	LastTraded   string  // most recent date with volume > 0 ("" if none)
	PriceTrend   float64 // % change of the daily average over the last 7 days
}

// FetchMarketHistory downloads the daily history of a type in a region.
func (c *Client) FetchMarketHistory(ctx context.Context, regionID, typeID int32) ([]HistoryEntry, error) {
	var days []HistoryEntry
	url := fmt.Sprintf("%s/markets/%d/history/?datasource=tranquility&type_id=%d", c.baseURL, regionID, typeID)
	if err := c.GetJSON(ctx, url, &days); err != nil {
		return nil, fmt.Errorf("history %d/%d: %w", regionID, typeID, err)
	}
	return days, nil
}

// ComputeMarketStats summarises history as of now. Entries may arrive in any
// order; the trend compares the first and last averages inside the week.
func ComputeMarketStats(entries []HistoryEntry, now time.Time) MarketStats {
	days := slices.Clone(entries)
	slices.SortFunc(days, func(a, b HistoryEntry) int { return strings.Compare(a.Date, b.Date) })

	weekStart := now.UTC().AddDate(0, 0, -7).Format(time.DateOnly)
	var (
		stats MarketStats
		week  []HistoryEntry
	)
	for _, day := range days {
		if day.Volume > 0 {
			stats.LastTraded = day.Date
		}
		if day.Date >= weekStart {
			stats.WeeklyVolume += day.Volume
			week = append(week, day)
		}
	}
	stats.DailyVolume = stats.WeeklyVolume / 7
	if len(week) > 0 && week[0].Average > 0 {
		first, last := week[0].Average, week[len(week)-1].Average
		stats.PriceTrend = (last - first) / first * 100
	}
	return stats
}
