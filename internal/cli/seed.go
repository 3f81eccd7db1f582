package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
)

// seedFile is the reference data the engine resolves stations and items from.
type seedFile struct {
	Regions  []db.Region  `yaml:"regions"`
	Stations []db.Station `yaml:"stations"`
	Items    []seedItem   `yaml:"items"`
}

type seedItem struct {
	TypeID int32   `yaml:"type_id"`
	Name   string  `yaml:"name"`
	Volume float64 `yaml:"volume"`
}

func readSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, it := range f.Items {
		if it.TypeID <= 0 || it.Volume <= 0 {
			return nil, fmt.Errorf("parse %s: item %d %q needs a type_id and a positive volume", path, it.TypeID, it.Name)
		}
	}
	return &f, nil
}

// hubStations adds a station row for every configured hub the seed file does
// not already describe.
func (a *app) hubStations(known []db.Station) []db.Station {
	have := make(map[int64]bool, len(known))
	for _, s := range known {
		have[s.ID] = true
	}
	out := append([]db.Station(nil), known...)
	for _, h := range a.cfg.Hubs {
		if !have[h.StationID] {
			out = append(out, db.Station{ID: h.StationID, Name: h.SystemName + " trade hub", RegionID: h.RegionID})
		}
	}
	return out
}

func newSeedCommand(a *app) *cobra.Command {
	var (
		file    string
		history bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load hubs, stations, regions and items, optionally with market history",
		Long: `Write the configured hubs and the reference data in --file to the database.
With --history the daily market history of every seeded item is downloaded for
each destination hub region, which feeds the liquidity filter and the weekly
volume used to size shipments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := &seedFile{}
			if file != "" {
				var err error
				if seed, err = readSeedFile(file); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			defer a.close()

			stations := a.hubStations(seed.Stations)
			items := make([]engine.ItemInfo, len(seed.Items))
			for i, it := range seed.Items {
				items[i] = engine.ItemInfo{TypeID: it.TypeID, Name: it.Name, Volume: it.Volume}
			}
			if err := a.db.UpsertRegions(ctx, seed.Regions); err != nil {
				return err
			}
			if err := a.db.UpsertStations(ctx, stations); err != nil {
				return err
			}
			if err := a.db.UpsertItems(ctx, items); err != nil {
				return err
			}

			logger.Section("Seed")
			logger.Stats("Hubs", len(a.cfg.Hubs))
			logger.Stats("Regions", len(seed.Regions))
			logger.Stats("Stations", len(stations))
			logger.Stats("Items", len(items))

			if !history || len(items) == 0 {
				return nil
			}
			typeIDs := make([]int32, len(items))
			for i, it := range items {
				typeIDs[i] = it.TypeID
			}
			regions := make(map[int32]bool)
			for _, h := range a.cfg.Hubs {
				if h.Name == a.cfg.SourceHub || regions[h.RegionID] {
					continue
				}
				regions[h.RegionID] = true
				n, err := a.db.SyncMarketHistory(ctx, a.esi, h.RegionID, typeIDs)
				if err != nil {
					return fmt.Errorf("history %s: %w", h.Name, err)
				}
				logger.Stats("History "+h.Name, n)
			}
			a.db.CleanupOldHistory(ctx)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with regions, stations and items")
	cmd.Flags().BoolVar(&history, "history", false, "Download market history for the seeded items")
	return cmd
}
