package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
)

// parseAllocation turns hub=fraction pairs into a capital split. Values above
// 1 are read as percentages.
func parseAllocation(pairs map[string]string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for hub, raw := range pairs {
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("allocation %s=%s: %w", hub, raw, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("allocation %s=%s: must not be negative", hub, raw)
		}
		if v > 1 || strings.HasSuffix(raw, "%") {
			v /= 100
		}
		out[strings.ToLower(hub)] = v
	}
	return out, nil
}

func newPlanCommand(a *app) *cobra.Command {
	var (
		source, capital, strategy string
		alloc                     map[string]string
		minMargin                 float64
		minLiquidity              int64
		maxItems                  int
		dryRun                    bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Split capital across destination hubs and pack each hub's shipments",
		Long: `Plan one trading cycle: the capital is split across the destination hubs
(--alloc amarr=0.5 --alloc dodixie=30%, default from config), each hub's share
is packed with the chosen strategy and the plan is saved as a new cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(capital)
			if err != nil || !total.IsPositive() {
				return fmt.Errorf("--capital must be a positive ISK amount")
			}
			split, err := parseAllocation(alloc)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			defer a.close()

			if source == "" {
				source = a.cfg.SourceHub
			}
			req := engine.CycleRequest{
				SourceHub:    source,
				TotalCapital: total,
				Allocation:   split,
				Strategy:     strategy,
				Filters: engine.CycleFilters{
					MinLiquidity:   minLiquidity,
					MaxItemsPerHub: maxItems,
				},
			}
			if cmd.Flags().Changed("min-margin") {
				req.Filters.MinMarginPercent = engine.Float64(minMargin)
			}

			analyzer := a.analyzer()
			plan, err := engine.NewAllocator(analyzer, a.registry()).PlanCycle(ctx, req)
			if err != nil {
				return explain(err)
			}
			if !dryRun {
				if _, err := a.db.SaveCycle(ctx, plan); err != nil {
					return fmt.Errorf("save cycle: %w", err)
				}
			}
			a.out.CyclePlan(plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Hub to buy at (default source_hub)")
	cmd.Flags().StringVar(&capital, "capital", "", "Total ISK for the cycle")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Packing strategy: greedy, optimal or hybrid (default optimizer.default_strategy)")
	cmd.Flags().StringToStringVar(&alloc, "alloc", nil, "Capital split, hub=fraction (repeatable)")
	cmd.Flags().Float64Var(&minMargin, "min-margin", 0, "Minimum gross margin percent")
	cmd.Flags().Int64Var(&minLiquidity, "min-liquidity", 0, "Minimum weekly units traded at the destination")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Opportunities handed to the packer per hub (default trade.result_limit)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without saving a cycle")
	cmd.MarkFlagRequired("capital")
	return cmd
}

func newCyclesCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List saved trading cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			cycles, err := a.db.ListCycles(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.out.Cycles(cycles)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of cycles to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show a saved cycle's plan and status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			detail, err := a.db.GetCycle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.out.CyclePlan(detail.Plan)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nStatus: %s\n", detail.Status)
			for _, h := range detail.History {
				fmt.Fprintf(out, "  %s  %s\n", h.ChangedAt, h.Status)
			}
			return nil
		},
	})

	var to string
	advance := &cobra.Command{
		Use:   "advance <cycle-id>",
		Short: "Move a cycle to its next status",
		Long:  `Cycles move forward one step at a time: planned, buying, in_transit, selling, completed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			rec, err := a.db.AdvanceCycle(cmd.Context(), args[0], db.CycleStatus(to))
			if err != nil {
				return err
			}
			logger.Success("CYCLE", fmt.Sprintf("%s is now %s", rec.ID, rec.Status))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.Status)
			return nil
		},
	}
	advance.Flags().StringVar(&to, "to", "", "Expected next status (fails if it is not the next one)")
	cmd.AddCommand(advance)

	return cmd
}
