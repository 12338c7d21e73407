// Package server exposes the engine over HTTP/JSON plus a gRPC health
// endpoint for infrastructure probes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"IntentLedger/internal/authz"
	"IntentLedger/internal/insurance"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/observability"
	"IntentLedger/internal/registry"
	"IntentLedger/internal/settlement"
)

// API serves the JSON surface of the engine.
type API struct {
	reg       *registry.Registry
	engine    *settlement.Engine
	insurance *insurance.Ledger
	authority authz.Capability
	admin     authz.Capability
	health    *observability.HealthChecker
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewAPI(reg *registry.Registry, engine *settlement.Engine, ins *insurance.Ledger, authority, admin authz.Capability, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) *API {
	return &API{
		reg:       reg,
		engine:    engine,
		insurance: ins,
		authority: authority,
		admin:     admin,
		health:    health,
		log:       log,
		metrics:   metrics,
	}
}

// Router builds the chi route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.observe)

	r.Get("/healthz", a.health.LivenessHandler)
	r.Get("/readyz", a.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/intents", a.submitIntent)
		r.Get("/intents/{id}", a.getIntent)
		r.Post("/intents/{id}/cancel", a.cancelIntent)
		r.Post("/intents/{id}/slash", a.slashIntent)
		r.Post("/intents/{id}/execute", a.executeIntent)
		r.Get("/executions/{id}", a.getExecution)
		r.Get("/insurance", a.insuranceBalance)
		r.Post("/insurance/withdraw", a.insuranceWithdraw)
		r.Post("/rewards/claim", a.claimRewards)
	})

	return r
}

type submitRequest struct {
	Submitter            string `json:"submitter"`
	TargetAccount        string `json:"target_account"`
	TargetVenue          string `json:"target_venue"`
	HealthRatioThreshold int64  `json:"health_ratio_threshold"`
	MinPrice             int64  `json:"min_price"`
	Deadline             uint64 `json:"deadline"`
	BondAmount           int64  `json:"bond_amount"`
}

func (a *API) submitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed request body")
		return
	}

	id, err := a.reg.SubmitIntent(r.Context(), registry.SubmitParams{
		Submitter:            req.Submitter,
		TargetAccount:        req.TargetAccount,
		TargetVenue:          req.TargetVenue,
		HealthRatioThreshold: req.HealthRatioThreshold,
		MinPrice:             req.MinPrice,
		Deadline:             req.Deadline,
		BondAmount:           req.BondAmount,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"intent_id": id.String()})
}

func (a *API) getIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	it, err := a.reg.GetIntent(id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, intentView(it))
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

func (a *API) cancelIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed request body")
		return
	}

	if err := a.reg.CancelIntent(r.Context(), id, req.Caller); err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": "cancelled"})
}

func (a *API) slashIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	if err := a.reg.SlashIntent(r.Context(), id, a.authority); err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": "slashed"})
}

type executeRequest struct {
	Caller          string `json:"caller"`
	CollateralAsset string `json:"collateral_asset"`
	DebtAsset       string `json:"debt_asset"`
	DebtToCover     int64  `json:"debt_to_cover"`
}

func (a *API) executeIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed request body")
		return
	}

	ex, err := a.engine.ExecuteLiquidation(r.Context(), id,
		req.CollateralAsset, req.DebtAsset, req.DebtToCover, req.Caller)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ex)
}

func (a *API) getExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	ex, err := a.engine.GetExecution(id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ex)
}

func (a *API) insuranceBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"balance": a.insurance.Balance()})
}

type withdrawRequest struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

func (a *API) insuranceWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed request body")
		return
	}

	if err := a.insurance.Withdraw(req.Amount, req.Recipient, a.admin); err != nil {
		a.writeDomainError(w, err)
		return
	}

	if a.metrics != nil {
		a.metrics.InsuranceDebits.Add(float64(req.Amount))
		a.metrics.InsuranceBalance.Set(float64(a.insurance.Balance()))
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": a.insurance.Balance()})
}

type claimRequest struct {
	Caller string `json:"caller"`
}

func (a *API) claimRewards(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed request body")
		return
	}

	amount, err := a.engine.ClaimRewards(r.Context(), req.Caller)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"claimed": amount})
}

func (a *API) parseID(w http.ResponseWriter, r *http.Request) (intent.ID, bool) {
	id, err := intent.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", "malformed intent id")
		return intent.ID{}, false
	}
	return id, true
}

func intentView(it intent.Intent) map[string]interface{} {
	return map[string]interface{}{
		"intent_id":              it.ID.String(),
		"submitter":              it.Submitter,
		"target_account":         it.TargetAccount,
		"target_venue":           it.TargetVenue,
		"health_ratio_threshold": it.HealthRatioThreshold,
		"min_price":              it.MinPrice,
		"deadline":               it.Deadline,
		"bond_amount":            it.BondAmount,
		"state":                  it.State.String(),
		"created_at_height":      it.CreatedAt,
	}
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, settlement.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateIntent):
		return "duplicate_intent", http.StatusConflict
	case errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, settlement.ErrUnauthorized),
		errors.Is(err, insurance.ErrUnauthorized):
		return "unauthorized", http.StatusForbidden
	case errors.Is(err, registry.ErrAlreadyFinalized),
		errors.Is(err, registry.ErrIntentNotPending):
		return "already_finalized", http.StatusConflict
	case errors.Is(err, registry.ErrTimelockActive):
		return "timelock_active", http.StatusConflict
	case errors.Is(err, settlement.ErrIntentExpired):
		return "intent_expired", http.StatusConflict
	case errors.Is(err, settlement.ErrProofInvalid):
		return "proof_invalid", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrProofExpired):
		return "proof_expired", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrPositionNotLiquidatable):
		return "position_not_liquidatable", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrExceedsCloseFactor):
		return "exceeds_close_factor", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrUnpricedAsset):
		return "unpriced_asset", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrSlippageExceeded):
		return "slippage_exceeded", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrVenueCallFailed):
		return "venue_call_failed", http.StatusBadGateway
	case errors.Is(err, settlement.ErrNoCollateralSeized):
		return "no_collateral_seized", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrNoRewards):
		return "no_rewards", http.StatusUnprocessableEntity
	case errors.Is(err, insurance.ErrInsufficientBalance):
		return "insufficient_balance", http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrInvalidParameters),
		errors.Is(err, settlement.ErrInvalidParameters),
		errors.Is(err, insurance.ErrInvalidAmount):
		return "invalid_parameters", http.StatusBadRequest
	default:
		return "internal", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// observe records request count and latency per route pattern.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		a.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		a.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
