package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

type scanFlags struct {
	sources      []string
	destinations []string
	minProfit    string
	minMargin    float64
	minPerVolume float64
	maxInvest    string
	excludeRisky bool
	sortBy       string
	order        string
	limit        int
	fromStation  int64
	toStation    int64
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.sources, "source", nil, "Buy at these hubs (default all)")
	cmd.Flags().StringSliceVar(&f.destinations, "dest", nil, "Sell at these hubs (default all)")
	cmd.Flags().StringVar(&f.minProfit, "min-profit", "", "Minimum net profit in ISK")
	cmd.Flags().Float64Var(&f.minMargin, "min-margin", 0, "Minimum gross margin percent")
	cmd.Flags().Float64Var(&f.minPerVolume, "min-isk-per-m3", 0, "Minimum net profit per m³")
	cmd.Flags().StringVar(&f.maxInvest, "max-investment", "", "Maximum ISK spent on one opportunity")
	cmd.Flags().BoolVar(&f.excludeRisky, "exclude-high-risk", false, "Drop low-confidence opportunities")
	cmd.Flags().StringVar(&f.sortBy, "sort", string(engine.SortByProfit), "Sort by profit, margin, profitPerVolume or roi")
	cmd.Flags().StringVar(&f.order, "order", string(engine.SortDesc), "asc or desc")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum results (default trade.result_limit)")
	cmd.Flags().Int64Var(&f.fromStation, "from-station", 0, "Buy at this station ID (with --to-station)")
	cmd.Flags().Int64Var(&f.toStation, "to-station", 0, "Sell at this station ID (with --from-station)")
	cmd.MarkFlagsRequiredTogether("from-station", "to-station")
}

// filters builds engine filters; flags left at their zero value are not applied.
func (f *scanFlags) filters(cmd *cobra.Command) (*engine.ArbitrageFilters, error) {
	out := &engine.ArbitrageFilters{
		SourceHubs:      f.sources,
		DestinationHubs: f.destinations,
		ExcludeHighRisk: f.excludeRisky,
		SortBy:          engine.SortKey(f.sortBy),
		Order:           engine.SortOrder(f.order),
		Limit:           f.limit,
	}
	switch out.SortBy {
	case engine.SortByProfit, engine.SortByMargin, engine.SortByProfitPerVolume, engine.SortByROI:
	default:
		return nil, fmt.Errorf("unknown sort key %q", f.sortBy)
	}
	if out.Order != engine.SortAsc && out.Order != engine.SortDesc {
		return nil, fmt.Errorf("unknown sort order %q", f.order)
	}
	if f.minProfit != "" {
		v, err := decimal.NewFromString(f.minProfit)
		if err != nil {
			return nil, fmt.Errorf("--min-profit: %w", err)
		}
		out.MinProfit = &v
	}
	if f.maxInvest != "" {
		v, err := decimal.NewFromString(f.maxInvest)
		if err != nil {
			return nil, fmt.Errorf("--max-investment: %w", err)
		}
		out.MaxInvestment = &v
	}
	if cmd.Flags().Changed("min-margin") {
		out.MinMarginPercent = engine.Float64(f.minMargin)
	}
	if cmd.Flags().Changed("min-isk-per-m3") {
		out.MinProfitPerVolume = engine.Float64(f.minPerVolume)
	}
	return out, nil
}

func newScanCommand(a *app) *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find cross-region opportunities between the trade hubs",
		Long: `Fetch the current orders at every configured hub and list the profitable
buy-here, sell-there spreads. With exactly one --source and one --dest the
search runs on that hub pair only; with one --source it runs from that hub
to every other (or each --dest) hub. --from-station/--to-station search one
explicit station pair, hub or not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := f.filters(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			defer a.close()

			analyzer := a.analyzer()
			start := time.Now()
			var (
				opps    []engine.ArbitrageOpportunity
				variant = "all"
				scope   = "all hubs"
			)
			switch {
			case f.fromStation != 0:
				variant = "route"
				scope = fmt.Sprintf("%d -> %d", f.fromStation, f.toStation)
				opps, err = a.scanRoute(cmd, analyzer, f.fromStation, f.toStation, filters)
			case len(f.sources) == 1 && len(f.destinations) == 1:
				variant = "hub-pair"
				scope = strings.ToLower(f.sources[0]) + " -> " + strings.ToLower(f.destinations[0])
				opps, err = analyzer.FindOpportunitiesForHubPair(ctx, f.sources[0], f.destinations[0], filters)
			default:
				if len(f.sources) == 1 {
					variant = "hub"
					scope = strings.ToLower(f.sources[0]) + " -> " + strings.ToLower(strings.Join(f.destinations, ","))
				}
				opps, err = a.scanAll(cmd, analyzer, filters)
			}
			if err != nil {
				return explain(err)
			}

			a.out.Opportunities(opps)
			a.recordScan(cmd, variant, scope, opps, time.Since(start), filters)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}

func (a *app) scanAll(cmd *cobra.Command, analyzer *engine.Analyzer, filters *engine.ArbitrageFilters) ([]engine.ArbitrageOpportunity, error) {
	ctx := cmd.Context()
	hubs, err := a.db.GetHubDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	locs := make([]esi.TrackedLocation, 0, len(hubs))
	for _, h := range hubs {
		locs = append(locs, esi.TrackedLocation{LocationID: h.StationID, RegionID: h.RegionID})
	}
	orders, err := a.esi.FetchOrders(ctx, locs, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrSnapshotUnavailable, err)
	}
	if len(filters.SourceHubs) != 1 {
		return analyzer.FindOpportunities(ctx, orders, filters)
	}

	src, err := analyzer.ResolveHubs(ctx, filters.SourceHubs)
	if err != nil {
		return nil, err
	}
	dests := hubs
	if len(filters.DestinationHubs) > 0 {
		if dests, err = analyzer.ResolveHubs(ctx, filters.DestinationHubs); err != nil {
			return nil, err
		}
	}
	dests = slices.DeleteFunc(slices.Clone(dests), func(h engine.HubDefinition) bool { return h.Name == src[0].Name })
	return analyzer.FindOpportunitiesFromHub(ctx, orders, src[0], dests, filters)
}

func (a *app) scanRoute(cmd *cobra.Command, analyzer *engine.Analyzer, from, to int64, filters *engine.ArbitrageFilters) ([]engine.ArbitrageOpportunity, error) {
	if from == to {
		return nil, fmt.Errorf("--from-station and --to-station must differ")
	}
	ctx := cmd.Context()
	locs := make([]esi.TrackedLocation, 0, 2)
	for _, id := range []int64{from, to} {
		st, err := a.db.ResolveStation(ctx, id)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, fmt.Errorf("unknown station %d (run seed first)", id)
		}
		locs = append(locs, esi.TrackedLocation{LocationID: id, RegionID: st.RegionID})
	}
	orders, err := a.esi.FetchOrders(ctx, locs, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrSnapshotUnavailable, err)
	}
	return analyzer.FindOpportunitiesForRoute(ctx, orders, from, to, filters)
}

func (a *app) recordScan(cmd *cobra.Command, variant, scope string, opps []engine.ArbitrageOpportunity, took time.Duration, params any) {
	rec := db.ScanRecord{
		Variant:     variant,
		Scope:       scope,
		Count:       len(opps),
		TopProfit:   decimal.Zero,
		TotalProfit: decimal.Zero,
		DurationMs:  took.Milliseconds(),
	}
	for _, o := range opps {
		rec.TopProfit = decimal.Max(rec.TopProfit, o.Profit.NetProfit)
		rec.TotalProfit = rec.TotalProfit.Add(o.Profit.NetProfit)
	}
	if _, err := a.db.InsertScan(cmd.Context(), rec, params); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: scan not recorded: %v\n", err)
	}
}

func newCompareCommand(a *app) *cobra.Command {
	var (
		source, dest      string
		budget, transport string
		cargo             float64
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run every packing strategy on one hub pair and compare them",
		RunE: func(cmd *cobra.Command, args []string) error {
			budgetISK, err := decimal.NewFromString(budget)
			if err != nil || !budgetISK.IsPositive() {
				return fmt.Errorf("--budget must be a positive ISK amount")
			}
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			defer a.close()

			if source == "" {
				source = a.cfg.SourceHub
			}
			settings := a.cfg.EngineSettings()
			if cargo <= 0 {
				cargo = settings.CargoCapacity
			}
			transportISK := settings.HubTransportCost[strings.ToLower(dest)]
			if transport != "" {
				if transportISK, err = decimal.NewFromString(transport); err != nil {
					return fmt.Errorf("--transport: %w", err)
				}
			}

			opps, err := a.analyzer().FindOpportunitiesForHubPair(ctx, source, dest, nil)
			if err != nil {
				return explain(err)
			}
			result, err := engine.CompareAlgorithms(ctx, a.registry(), engine.PackingInput{
				Opportunities: opps,
				Budget:        budgetISK,
				TransportCost: transportISK,
				CargoCapacity: cargo,
			})
			if err != nil {
				return err
			}

			a.out.Tournament(result)
			for _, r := range result.Results {
				a.out.Packing(r)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Hub to buy at (default source_hub)")
	cmd.Flags().StringVar(&dest, "dest", "", "Hub to sell at")
	cmd.Flags().StringVar(&budget, "budget", "", "ISK available for goods and transport")
	cmd.Flags().StringVar(&transport, "transport", "", "Cost of one shipment (default from config)")
	cmd.Flags().Float64Var(&cargo, "cargo", 0, "Cargo capacity per shipment in m³ (default trade.cargo_capacity)")
	cmd.MarkFlagRequired("dest")
	cmd.MarkFlagRequired("budget")
	return cmd
}
