package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/config"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP API server that connects the market snapshot provider,
// the opportunity engine and the database.
type Server struct {
	cfg       *config.Config
	db        *db.DB
	snapshots engine.SnapshotProvider
	analyzer  *engine.Analyzer
	registry  *engine.Registry
	allocator *engine.Allocator
	validator *config.Validator
}

// healthChecker is implemented by snapshot providers that can ping upstream.
type healthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// NewServer creates a Server. snapshots may be nil; endpoints that need live
// orders then answer 503.
func NewServer(cfg *config.Config, snapshots engine.SnapshotProvider, database *db.DB) *Server {
	settings := cfg.EngineSettings()
	analyzer := engine.NewAnalyzer(settings, database.Collaborators(snapshots))
	registry := engine.DefaultRegistry(settings)
	return &Server{
		cfg:       cfg,
		db:        database,
		snapshots: snapshots,
		analyzer:  analyzer,
		registry:  registry,
		allocator: engine.NewAllocator(analyzer, registry),
		validator: config.NewValidator(),
	}
}

// Handler returns the HTTP handler with all API routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("GET /api/hubs", s.handleGetHubs)
	mux.HandleFunc("POST /api/opportunities", s.handleOpportunities)
	mux.HandleFunc("POST /api/opportunities/hub-pair", s.handleHubPair)
	mux.HandleFunc("POST /api/opportunities/route", s.handleRoute)
	mux.HandleFunc("POST /api/algorithms/compare", s.handleCompare)
	mux.HandleFunc("GET /api/scans", s.handleGetScans)
	mux.HandleFunc("POST /api/scans/clear", s.handleClearScans)
	// Cycles
	mux.HandleFunc("POST /api/cycles/plan", s.handlePlanCycle)
	mux.HandleFunc("GET /api/cycles", s.handleListCycles)
	mux.HandleFunc("GET /api/cycles/{id}", s.handleGetCycle)
	mux.HandleFunc("POST /api/cycles/{id}/advance", s.handleAdvanceCycle)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	return corsMiddleware(metricsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records every request under its route pattern, which the
// mux fills in on the shared request while routing.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps engine and storage errors to status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownHub), errors.Is(err, engine.ErrUnknownStrategy):
		code = http.StatusBadRequest
	case errors.Is(err, engine.ErrSnapshotUnavailable):
		code = http.StatusBadGateway
	case errors.Is(err, engine.ErrNoSnapshotProvider):
		code = http.StatusServiceUnavailable
	case errors.Is(err, db.ErrCycleNotFound):
		code = http.StatusNotFound
	case errors.Is(err, db.ErrInvalidTransition):
		code = http.StatusConflict
	}
	if code >= http.StatusInternalServerError {
		logger.Error("API", err.Error())
	}
	writeError(w, code, err.Error())
}

// decodeBody decodes a JSON request body and runs struct validation.
// An empty body decodes to the zero value.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	if err := s.validator.Validate(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func queryLimit(r *http.Request, def int) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return def
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hubs, err := s.db.GetHubDefinitions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	esiOK := false
	if hc, ok := s.snapshots.(healthChecker); ok {
		esiOK = hc.HealthCheck(r.Context())
	}
	writeJSON(w, map[string]interface{}{
		"esi_ok":           esiOK,
		"hubs":             len(hubs),
		"strategies":       s.registry.Names(),
		"default_strategy": s.analyzer.Settings().DefaultStrategy,
		"metrics_enabled":  metrics.IsEnabled(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

type hubView struct {
	engine.HubDefinition
	TransportCost *decimal.Decimal `json:"transport_cost,omitempty"`
	Allocation    float64          `json:"allocation,omitempty"`
}

func (s *Server) handleGetHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := s.db.GetHubDefinitions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	settings := s.analyzer.Settings()
	out := make([]hubView, 0, len(hubs))
	for _, h := range hubs {
		v := hubView{HubDefinition: h, Allocation: settings.DefaultAllocation[h.Name]}
		if c, ok := settings.HubTransportCost[h.Name]; ok {
			v.TransportCost = &c
		}
		out = append(out, v)
	}
	writeJSON(w, out)
}

type opportunitiesResponse struct {
	Opportunities []engine.ArbitrageOpportunity `json:"opportunities"`
	Count         int                           `json:"count"`
	ScanID        int64                         `json:"scan_id,omitempty"`
	DurationMs    int64                         `json:"duration_ms"`
}

// handleOpportunities snapshots every known hub and runs the full search.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	var filters engine.ArbitrageFilters
	if !s.decodeBody(w, r, &filters) {
		return
	}
	if s.snapshots == nil {
		writeEngineError(w, engine.ErrNoSnapshotProvider)
		return
	}

	ctx := r.Context()
	start := time.Now()
	hubs, err := s.db.GetHubDefinitions(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	locs := make([]esi.TrackedLocation, 0, len(hubs))
	for _, h := range hubs {
		locs = append(locs, esi.TrackedLocation{LocationID: h.StationID, RegionID: h.RegionID})
	}
	orders, err := s.snapshots.FetchOrders(ctx, locs, nil)
	if err != nil {
		writeEngineError(w, fmt.Errorf("%w: %w", engine.ErrSnapshotUnavailable, err))
		return
	}

	variant := "all"
	var opps []engine.ArbitrageOpportunity
	if len(filters.SourceHubs) == 1 {
		variant = "hub"
		opps, err = s.fromHub(ctx, orders, hubs, &filters)
	} else {
		opps, err = s.analyzer.FindOpportunities(ctx, orders, &filters)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	scope := "all hubs"
	if len(filters.SourceHubs) > 0 || len(filters.DestinationHubs) > 0 {
		scope = strings.Join(filters.SourceHubs, ",") + " -> " + strings.Join(filters.DestinationHubs, ",")
	}
	s.respondOpportunities(w, r, variant, scope, opps, start, filters)
}

// fromHub runs the single-source search against the named destinations, or
// against every other hub when none are named.
func (s *Server) fromHub(ctx context.Context, orders []esi.MarketOrder, hubs []engine.HubDefinition, filters *engine.ArbitrageFilters) ([]engine.ArbitrageOpportunity, error) {
	src, err := s.analyzer.ResolveHubs(ctx, filters.SourceHubs)
	if err != nil {
		return nil, err
	}
	var dests []engine.HubDefinition
	if len(filters.DestinationHubs) > 0 {
		if dests, err = s.analyzer.ResolveHubs(ctx, filters.DestinationHubs); err != nil {
			return nil, err
		}
	} else {
		for _, h := range hubs {
			if h.Name != src[0].Name {
				dests = append(dests, h)
			}
		}
	}
	return s.analyzer.FindOpportunitiesFromHub(ctx, orders, src[0], dests, filters)
}

type routeRequest struct {
	SourceStationID      int64                   `json:"source_station_id" validate:"required"`
	DestinationStationID int64                   `json:"destination_station_id" validate:"required,nefield=SourceStationID"`
	Filters              engine.ArbitrageFilters `json:"filters"`
}

// handleRoute searches one explicit station pair, hubs or not.
// POST /api/opportunities/route
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if s.snapshots == nil {
		writeEngineError(w, engine.ErrNoSnapshotProvider)
		return
	}

	ctx := r.Context()
	start := time.Now()
	locs := make([]esi.TrackedLocation, 0, 2)
	for _, id := range []int64{req.SourceStationID, req.DestinationStationID} {
		st, err := s.db.ResolveStation(ctx, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if st == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown station %d", id))
			return
		}
		locs = append(locs, esi.TrackedLocation{LocationID: id, RegionID: st.RegionID})
	}
	orders, err := s.snapshots.FetchOrders(ctx, locs, nil)
	if err != nil {
		writeEngineError(w, fmt.Errorf("%w: %w", engine.ErrSnapshotUnavailable, err))
		return
	}

	opps, err := s.analyzer.FindOpportunitiesForRoute(ctx, orders, req.SourceStationID, req.DestinationStationID, &req.Filters)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	scope := fmt.Sprintf("%d -> %d", req.SourceStationID, req.DestinationStationID)
	s.respondOpportunities(w, r, "route", scope, opps, start, req)
}

type hubPairRequest struct {
	Source      string                  `json:"source" validate:"required"`
	Destination string                  `json:"destination" validate:"required,nefield=Source"`
	Filters     engine.ArbitrageFilters `json:"filters"`
}

func (s *Server) handleHubPair(w http.ResponseWriter, r *http.Request) {
	var req hubPairRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	start := time.Now()
	opps, err := s.analyzer.FindOpportunitiesForHubPair(r.Context(), req.Source, req.Destination, &req.Filters)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	scope := strings.ToLower(req.Source) + " -> " + strings.ToLower(req.Destination)
	s.respondOpportunities(w, r, "hub-pair", scope, opps, start, req)
}

func (s *Server) respondOpportunities(w http.ResponseWriter, r *http.Request, variant, scope string, opps []engine.ArbitrageOpportunity, start time.Time, params any) {
	durationMs := time.Since(start).Milliseconds()
	logger.Info("API", fmt.Sprintf("%s scan (%s): %d opportunities in %dms", variant, scope, len(opps), durationMs))
	scanID := s.recordScan(r.Context(), variant, scope, opps, durationMs, params)
	writeJSON(w, opportunitiesResponse{
		Opportunities: opps,
		Count:         len(opps),
		ScanID:        scanID,
		DurationMs:    durationMs,
	})
}

// recordScan stores the scan summary. A failed insert is logged, not returned.
func (s *Server) recordScan(ctx context.Context, variant, scope string, opps []engine.ArbitrageOpportunity, durationMs int64, params any) int64 {
	rec := db.ScanRecord{
		Variant:     variant,
		Scope:       scope,
		Count:       len(opps),
		TopProfit:   decimal.Zero,
		TotalProfit: decimal.Zero,
		DurationMs:  durationMs,
	}
	for _, o := range opps {
		if o.Profit.NetProfit.GreaterThan(rec.TopProfit) {
			rec.TopProfit = o.Profit.NetProfit
		}
		rec.TotalProfit = rec.TotalProfit.Add(o.Profit.NetProfit)
	}
	id, err := s.db.InsertScan(ctx, rec, params)
	if err != nil {
		logger.Warn("API", fmt.Sprintf("scan not recorded: %v", err))
		return 0
	}
	return id
}

type compareRequest struct {
	Source        string                  `json:"source" validate:"required"`
	Destination   string                  `json:"destination" validate:"required,nefield=Source"`
	Budget        decimal.Decimal         `json:"budget"`
	TransportCost *decimal.Decimal        `json:"transport_cost,omitempty"`
	CargoCapacity float64                 `json:"cargo_capacity,omitempty" validate:"gte=0"`
	Filters       engine.ArbitrageFilters `json:"filters"`
}

// handleCompare finds the opportunities of one hub pair and runs every
// packing strategy on them.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !req.Budget.IsPositive() {
		writeError(w, http.StatusBadRequest, "budget must be positive")
		return
	}
	if req.TransportCost != nil && req.TransportCost.IsNegative() {
		writeError(w, http.StatusBadRequest, "transport_cost must not be negative")
		return
	}

	ctx := r.Context()
	opps, err := s.analyzer.FindOpportunitiesForHubPair(ctx, req.Source, req.Destination, &req.Filters)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	transport := decimal.Zero
	if req.TransportCost != nil {
		transport = *req.TransportCost
	} else if c, ok := s.analyzer.Settings().HubTransportCost[strings.ToLower(req.Destination)]; ok {
		transport = c
	}
	result, err := engine.CompareAlgorithms(ctx, s.registry, engine.PackingInput{
		Opportunities: opps,
		Budget:        req.Budget,
		TransportCost: transport,
		CargoCapacity: req.CargoCapacity,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	logger.Info("API", fmt.Sprintf("compare %s -> %s: winner %s, recommended %s",
		req.Source, req.Destination, result.Winner, result.Recommended))
	writeJSON(w, result)
}

func (s *Server) handleGetScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.db.GetScans(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, scans)
}

func (s *Server) handleClearScans(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanDays int `json:"older_than_days" validate:"gte=0"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.OlderThanDays < 1 {
		req.OlderThanDays = 7
	}
	count, err := s.db.ClearScans(r.Context(), req.OlderThanDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed: "+err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"status": "cleared", "deleted": count})
}
