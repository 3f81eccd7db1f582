package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_Values(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "jita", c.SourceHub)
	assert.Len(t, c.Hubs, 5)
	assert.Equal(t, 2.25, c.Trade.SalesTaxPercent)
	assert.Equal(t, 60000.0, c.Trade.CargoCapacity)
	assert.Equal(t, 60.0, c.Optimizer.TimeBudgetSeconds)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Hubs, c.Hubs)
	assert.Equal(t, engine.DefaultLiquidityDays, c.Trade.LiquidityDays)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: 0.0.0.0:8080
trade:
  sales_tax_percent: 3.6
  broker_fee_percent: 1.5
  skills:
    accounting: 4
  liquidity_days: -1
source_hub: Jita
hubs:
  - {name: Jita, system_name: Jita, station_id: 60003760, region_id: 10000002}
  - {name: Amarr, system_name: Amarr, station_id: 60008494, region_id: 10000043, jumps: 9}
  - {name: Hek, system_name: Hek, station_id: 60005686, region_id: 10000042, transport_cost: 1234.5}
shipping:
  cost_per_jump: 2000000
allocation:
  amarr: 0.75
  hek: 0.25
optimizer:
  default_strategy: hybrid
  time_budget_seconds: 2.5
`)
	t.Setenv("EVE_LOG_LEVEL", "debug")
	t.Setenv("EVE_CARGO_CAPACITY", "12500")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", c.Server.Addr)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format, "unset values fall back to defaults")
	assert.Equal(t, []string{"jita", "amarr", "hek"}, []string{c.Hubs[0].Name, c.Hubs[1].Name, c.Hubs[2].Name})
	assert.Equal(t, map[string]float64{"amarr": 0.75, "hek": 0.25}, c.Allocation, "allocation is replaced, not merged")

	s := c.EngineSettings()
	assert.InDelta(t, 0.036, s.Taxes.SalesTaxRate, 1e-12)
	assert.InDelta(t, 0.015, s.Taxes.BrokerFeeRate, 1e-12)
	assert.Equal(t, 4, s.Skills.Accounting)
	assert.Equal(t, 12500.0, s.CargoCapacity)
	assert.Zero(t, s.LiquidityDays)
	assert.Equal(t, engine.StrategyHybrid, s.DefaultStrategy)
	assert.Equal(t, 2500*time.Millisecond, s.OptimalTimeBudget)

	require.Len(t, s.HubTransportCost, 2, "no transport cost for the source hub")
	assert.Equal(t, "18000000", s.HubTransportCost["amarr"].String())
	assert.Equal(t, "1234.5", s.HubTransportCost["hek"].String())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log: {level: loud}"},
		{"unknown source hub", "source_hub: perimeter"},
		{"allocation to unknown hub", "allocation: {thera: 1}"},
		{"allocation to source hub", "allocation: {jita: 1}"},
		{"negative allocation", "allocation: {amarr: -0.5}"},
		{"skill out of range", "trade: {skills: {broker_relations: 6}}"},
		{"unknown strategy", "optimizer: {default_strategy: annealing}"},
		{"duplicate hubs", `
hubs:
  - {name: jita, station_id: 1, region_id: 1}
  - {name: jita, station_id: 2, region_id: 2}
`},
		{"invalid yaml", "hubs: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.yaml))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("EVE_COST_PER_JUMP", "lots")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate_WrapsErrInvalid(t *testing.T) {
	c := Default()
	c.Server.Addr = ""
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestHubDefinitionsAndESIOptions(t *testing.T) {
	c := Default()
	defs := c.HubDefinitions()
	require.Len(t, defs, 5)
	assert.Equal(t, engine.HubDefinition{Name: "amarr", SystemName: "Amarr", StationID: 60008494, RegionID: 10000043}, defs[1])

	opts := c.ESIOptions()
	assert.Equal(t, c.ESI.BaseURL, opts.BaseURL)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	s := c.EngineSettings()
	assert.Equal(t, "45000000", s.HubTransportCost["amarr"].String())
	assert.Equal(t, engine.DefaultSettings().HubTransportCost["rens"].String(), s.HubTransportCost["rens"].String())
}
