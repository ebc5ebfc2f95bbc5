// Package api serves a read-mostly JSON view of the engine for dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"quantedge/internal/arbitrage"
	"quantedge/internal/backtest"
	"quantedge/internal/config"
	"quantedge/internal/kelly"
	"quantedge/internal/market"
	"quantedge/internal/risk"
	"quantedge/internal/spike"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config    config.APIConfig
	detector  *spike.Detector
	arb       *arbitrage.Scanner
	engine    *backtest.Engine
	cache     *market.Cache
	riskMgr   *risk.Manager
	portfolio *risk.Portfolio
	sizer     *kelly.Sizer
}

func NewServer(
	cfg config.APIConfig,
	detector *spike.Detector,
	arb *arbitrage.Scanner,
	engine *backtest.Engine,
	cache *market.Cache,
	riskMgr *risk.Manager,
	portfolio *risk.Portfolio,
	sizer *kelly.Sizer,
) *Server {
	return &Server{
		config:    cfg,
		detector:  detector,
		arb:       arb,
		engine:    engine,
		cache:     cache,
		riskMgr:   riskMgr,
		portfolio: portfolio,
		sizer:     sizer,
	}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/spikes", s.getSpikes).Methods("GET")
	api.HandleFunc("/opportunities", s.getOpportunities).Methods("GET")
	api.HandleFunc("/opportunities/{id}/execute", s.executeOpportunity).Methods("POST")
	api.HandleFunc("/backtests", s.getBacktests).Methods("GET")
	api.HandleFunc("/markets", s.getMarkets).Methods("GET")
	api.HandleFunc("/risk", s.getRisk).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server starting", "addr", s.config.BindAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("api server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding api response failed", "error", err)
	}
}

// limitParam reads ?limit=, returning 0 (everything) when absent or invalid.
func limitParam(r *http.Request) int {
	l, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || l < 0 {
		return 0
	}
	return l
}

func (s *Server) getSpikes(w http.ResponseWriter, r *http.Request) {
	events := s.detector.RecentSpikes(limitParam(r))
	out := make([]spikeJSON, len(events))
	for i, e := range events {
		out[i] = toSpike(e)
	}
	writeJSON(w, http.StatusOK, struct {
		Spikes []spikeJSON `json:"spikes"`
		Count  int         `json:"count"`
	}{out, len(out)})
}

func (s *Server) getOpportunities(w http.ResponseWriter, r *http.Request) {
	var opps []arbitrage.Opportunity
	if r.URL.Query().Get("status") == "all" {
		opps = s.arb.Opportunities()
	} else {
		opps = s.arb.ActiveOpportunities()
	}
	out := make([]opportunityJSON, len(opps))
	for i, o := range opps {
		out[i] = toOpportunity(o)
	}
	writeJSON(w, http.StatusOK, struct {
		Opportunities []opportunityJSON `json:"opportunities"`
		Count         int               `json:"count"`
	}{out, len(out)})
}

func (s *Server) executeOpportunity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.arb.MarkExecuted(id) {
		http.Error(w, "opportunity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{id, string(arbitrage.Executed)})
}

func (s *Server) getBacktests(w http.ResponseWriter, r *http.Request) {
	results := s.engine.Results()
	if l := limitParam(r); l > 0 && l < len(results) {
		results = results[:l]
	}
	withTrades := r.URL.Query().Get("trades") == "true"
	out := make([]backtestJSON, len(results))
	for i, res := range results {
		out[i] = toBacktest(res, withTrades)
	}
	writeJSON(w, http.StatusOK, struct {
		State   string         `json:"state"`
		Results []backtestJSON `json:"results"`
		Count   int            `json:"count"`
	}{string(s.engine.State()), out, len(out)})
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	snaps := s.cache.All()
	out := make([]marketJSON, len(snaps))
	for i, m := range snaps {
		out[i] = toMarket(m)
	}
	writeJSON(w, http.StatusOK, struct {
		Markets []marketJSON `json:"markets"`
		Count   int          `json:"count"`
	}{out, len(out)})
}

func (s *Server) getRisk(w http.ResponseWriter, r *http.Request) {
	positions := s.portfolio.Positions()
	equity := s.portfolio.Equity()
	m := s.riskMgr.CalculateMetrics(positions, equity)
	writeJSON(w, http.StatusOK, riskJSON{
		TradingAllowed:      s.riskMgr.IsTradingAllowed(),
		DailyPnL:            s.riskMgr.DailyPnL(),
		Equity:              equity,
		Cash:                s.portfolio.Cash(),
		TotalExposure:       m.TotalExposure,
		ExposurePercent:     m.ExposurePercent,
		LargestPosition:     m.LargestPosition,
		PortfolioHeat:       m.PortfolioHeat,
		CorrelationRisk:     m.CorrelationRisk,
		CorrelationExceeded: m.CorrelationExceeded,
		ValueAtRisk:         m.ValueAtRisk,
		MaxDrawdown:         m.MaxDrawdown,
		CurrentDrawdown:     m.CurrentDrawdown,
		RiskScore:           string(m.RiskScore),
		OptimalFraction:     s.sizer.OptimalFraction(),
		Positions:           toPositions(positions),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
