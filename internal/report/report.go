// Package report renders opportunity scans, cycle plans and algorithm
// tournaments as console tables.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
)

// Printer writes reports to an io.Writer.
type Printer struct {
	out io.Writer
}

// New creates a printer that writes to stdout.
func New() *Printer {
	return &Printer{out: os.Stdout}
}

// NewWriter creates a printer for an arbitrary writer.
func NewWriter(w io.Writer) *Printer {
	return &Printer{out: w}
}

func isk(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.InexactFloat64())
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// Opportunities prints one row per opportunity, in the given order.
func (p *Printer) Opportunities(opps []engine.ArbitrageOpportunity) {
	if len(opps) == 0 {
		fmt.Fprintf(p.out, "[%s] no opportunities found\n", time.Now().Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("#", "Item", "Route", "Qty", "Buy", "Sell", "Net profit", "Margin", "ISK/m3", "Conf")
	var total decimal.Decimal
	for i, o := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(o.TypeName, 30),
			fmt.Sprintf("%s -> %s", truncate(o.Buy.RegionName, 14), truncate(o.Sell.RegionName, 14)),
			humanize.Comma(o.Quantity),
			isk(o.Buy.Price),
			isk(o.Sell.Price),
			isk(o.Profit.NetProfit),
			pct(o.Profit.GrossMarginPercent),
			humanize.FormatFloat("#,###.", o.Profit.ProfitPerVolume),
			string(o.Meta.Confidence),
		)
		total = total.Add(o.Profit.NetProfit)
	}
	table.Render()
	fmt.Fprintf(p.out, "  %d opportunities, %s ISK combined net profit\n", len(opps), isk(total))
}

// Packing prints the items chosen by one strategy.
func (p *Printer) Packing(r engine.PackingResult) {
	fmt.Fprintf(p.out, "\n%s: %d items in %d shipments, profit %s ISK, cargo %s used, %.0fms\n",
		r.Algorithm, len(r.Items), len(r.Shipments), isk(r.TotalProfit), pct(r.CargoUtilization), r.ExecutionMillis())
	if r.Search != nil {
		fmt.Fprintf(p.out, "  search: %d nodes, %d pruned, %s of budget", r.Search.Nodes, r.Search.Pruned, pct(r.Search.BudgetFraction*100))
		if r.Search.TimedOut {
			fmt.Fprint(p.out, " (timed out, best so far)")
		}
		fmt.Fprintln(p.out)
	}
	if len(r.Items) == 0 {
		return
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("Ship", "Item", "Qty", "m3", "Cost", "Transport", "Net profit")
	for _, it := range r.Items {
		table.Append(
			fmt.Sprintf("%d", it.Shipment+1),
			truncate(it.Opportunity.TypeName, 30),
			humanize.Comma(it.Quantity),
			humanize.FormatFloat("#,###.##", it.TotalCargo),
			isk(it.TotalCost),
			isk(it.TransportShare),
			isk(it.NetProfit),
		)
	}
	table.Render()
}

// CyclePlan prints the per-hub split, then each hub's packing.
func (p *Printer) CyclePlan(plan *engine.CyclePlan) {
	header := fmt.Sprintf("Cycle from %s (%s)", plan.SourceHub, plan.Strategy)
	if plan.ID != "" {
		header += " " + plan.ID
	}
	fmt.Fprintln(p.out, header)

	table := tablewriter.NewWriter(p.out)
	table.Header("Hub", "Share", "Capital", "Transport", "Max ships", "Found", "Items", "Profit")
	for _, a := range plan.Allocations {
		table.Append(
			a.Hub,
			pct(a.Percentage*100),
			isk(a.Capital),
			isk(a.TransportCost),
			fmt.Sprintf("%d", a.MaxShipments),
			fmt.Sprintf("%d", a.OpportunitiesFound),
			fmt.Sprintf("%d", len(a.Packing.Items)),
			isk(a.Packing.TotalProfit),
		)
	}
	table.Render()

	s := plan.Summary
	fmt.Fprintf(p.out, "  Capital: %s of %s ISK allocated, %s spent on goods, %s on transport\n",
		isk(s.AllocatedCapital), isk(s.TotalCapital), isk(s.TotalValue), isk(s.TotalTransportCost))
	fmt.Fprintf(p.out, "  Expected profit: %s ISK (ROI %s), %d items in %d shipments, avg margin %s\n",
		isk(s.TotalProfit), pct(s.ExpectedROI), s.TotalItems, s.TotalShipments, pct(s.AverageMarginPct))

	for _, a := range plan.Allocations {
		if len(a.Packing.Items) > 0 {
			fmt.Fprintf(p.out, "\n== %s ==", strings.ToUpper(a.Hub))
			p.Packing(a.Packing)
		}
	}
}

// Tournament prints every strategy's score and the leaders.
func (p *Printer) Tournament(t *engine.TournamentResult) {
	table := tablewriter.NewWriter(p.out)
	table.Header("Algorithm", "Profit", "Cargo", "Time", "Items", "Ships", "Score", "Heuristic")
	for _, s := range t.Scores {
		name := s.Algorithm
		if name == t.Winner {
			name += " *"
		}
		table.Append(
			name,
			isk(s.TotalProfit),
			pct(s.CargoUtilization),
			fmt.Sprintf("%.1fms", s.ExecutionMillis),
			fmt.Sprintf("%d", s.Items),
			fmt.Sprintf("%d", s.Shipments),
			fmt.Sprintf("%.2f", s.Score),
			fmt.Sprintf("%.3f", s.Heuristic),
		)
	}
	table.Render()
	fmt.Fprintf(p.out, "  Best profit: %s | Best cargo: %s | Fastest: %s\n", t.BestProfit, t.BestUtilization, t.Fastest)
	fmt.Fprintf(p.out, "  %s\n", t.Recommendation)
}

// Cycles prints saved cycles.
func (p *Printer) Cycles(cycles []db.CycleRecord) {
	if len(cycles) == 0 {
		fmt.Fprintln(p.out, "no cycles saved")
		return
	}
	table := tablewriter.NewWriter(p.out)
	table.Header("ID", "Source", "Strategy", "Status", "Capital", "Profit", "Items", "Created")
	for _, c := range cycles {
		table.Append(c.ID, c.SourceHub, c.Strategy, string(c.Status),
			isk(c.TotalCapital), isk(c.TotalProfit), fmt.Sprintf("%d", c.Items), c.CreatedAt)
	}
	table.Render()
}
