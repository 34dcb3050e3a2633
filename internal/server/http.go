package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"RangeLedger/internal/observability"
	"RangeLedger/internal/query"
	"RangeLedger/internal/rebuild"
	"RangeLedger/internal/settlement"
)

// QueryService is the read surface the handlers serve from.
type QueryService interface {
	UserPositions(ctx context.Context, userAddress string, activeOnly bool) ([]query.PositionResponse, error)
	MarketPositions(ctx context.Context, marketID string) ([]query.PositionResponse, error)
	GetMarket(ctx context.Context, marketID string) (*query.MarketResponse, error)
	FailedSettlements(ctx context.Context) ([]query.FailedSettlementResponse, error)
}

// Reconciler replays a market and diffs it against live state.
type Reconciler interface {
	Reconcile(ctx context.Context, marketID string, resolvedValue *int64) (rebuild.Report, error)
}

// Retrier drains the settlement failure queue once, on demand.
type Retrier interface {
	DrainOnce(ctx context.Context) settlement.Report
}

// Deps wires the HTTP surface to the rest of the service.
type Deps struct {
	Query      QueryService
	Reconciler Reconciler
	Retrier    Retrier
	Health     *observability.HealthChecker
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// New builds the router: ops probes at the root, the read/admin API under
// /v1.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.Health.LivenessHandler)
	r.Get("/readyz", deps.Health.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s := &api{deps: deps}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{address}/positions", s.userPositions)
		r.Get("/markets/{marketID}", s.getMarket)
		r.Get("/markets/{marketID}/positions", s.marketPositions)
		r.Post("/markets/{marketID}/reconcile", s.reconcileMarket)
		r.Get("/settlements/failed", s.failedSettlements)
		r.Post("/settlements/retry", s.retrySettlements)
	})
	return r
}

type api struct {
	deps Deps
}

func (s *api) userPositions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	address := chi.URLParam(r, "address")
	activeOnly := r.URL.Query().Get("active") == "true"

	positions, err := s.deps.Query.UserPositions(r.Context(), address, activeOnly)
	if err != nil {
		s.fail(w, r, "user_positions", err)
		return
	}
	if positions == nil {
		positions = []query.PositionResponse{}
	}
	s.ok(w, "user_positions", start, map[string]interface{}{
		"user_address": address,
		"positions":    positions,
	})
}

func (s *api) getMarket(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	marketID := chi.URLParam(r, "marketID")

	market, err := s.deps.Query.GetMarket(r.Context(), marketID)
	if err != nil {
		s.fail(w, r, "get_market", err)
		return
	}
	if market == nil {
		s.notFound(w, "get_market", "market not found")
		return
	}
	s.ok(w, "get_market", start, market)
}

func (s *api) marketPositions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	marketID := chi.URLParam(r, "marketID")

	positions, err := s.deps.Query.MarketPositions(r.Context(), marketID)
	if err != nil {
		s.fail(w, r, "market_positions", err)
		return
	}
	if positions == nil {
		positions = []query.PositionResponse{}
	}
	s.ok(w, "market_positions", start, map[string]interface{}{
		"market_id": marketID,
		"positions": positions,
	})
}

func (s *api) reconcileMarket(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	marketID := chi.URLParam(r, "marketID")

	// An operator can supply a resolved value to cross-validate against;
	// otherwise the market cache's value is used.
	var body struct {
		ResolvedValue *int64 `json:"resolved_value"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.badRequest(w, "reconcile", "invalid request body")
			return
		}
	}

	resolvedValue := body.ResolvedValue
	if resolvedValue == nil {
		market, err := s.deps.Query.GetMarket(r.Context(), marketID)
		if err != nil {
			s.fail(w, r, "reconcile", err)
			return
		}
		if market != nil {
			resolvedValue = market.ResolvedValue
		}
	}

	report, err := s.deps.Reconciler.Reconcile(r.Context(), marketID, resolvedValue)
	if err != nil {
		s.fail(w, r, "reconcile", err)
		return
	}
	s.ok(w, "reconcile", start, map[string]interface{}{
		"report": report,
		"clean":  report.Clean(),
	})
}

func (s *api) failedSettlements(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	jobs, err := s.deps.Query.FailedSettlements(r.Context())
	if err != nil {
		s.fail(w, r, "failed_settlements", err)
		return
	}
	if jobs == nil {
		jobs = []query.FailedSettlementResponse{}
	}
	s.ok(w, "failed_settlements", start, map[string]interface{}{"jobs": jobs})
}

func (s *api) retrySettlements(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	report := s.deps.Retrier.DrainOnce(r.Context())
	s.ok(w, "retry_settlements", start, report)
}

func (s *api) ok(w http.ResponseWriter, endpoint string, start time.Time, body interface{}) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *api) badRequest(w http.ResponseWriter, endpoint, msg string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "bad_request").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *api) notFound(w http.ResponseWriter, endpoint, msg string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "not_found").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *api) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	s.deps.Logger.Error().Err(err).
		Str("endpoint", endpoint).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
}
