// Package api provides the HTTP handlers for the auction engine: bid
// lifecycle, clearing, positions, portfolio analytics, and market data.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voltmesh/auction-engine/internal/analytics"
	"github.com/voltmesh/auction-engine/internal/clearing"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/market"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/repricer"
	"github.com/voltmesh/auction-engine/internal/store"
)

// Service handles HTTP requests and delegates to the domain components.
type Service struct {
	store     store.Store
	ledger    *market.Ledger
	engine    *clearing.Engine
	executor  *clearing.Executor
	repricer  *repricer.Repricer
	analytics *analytics.Service
	feed      feed.PriceFeed
	region    string
}

// NewService creates the HTTP service.
func NewService(
	st store.Store,
	ledger *market.Ledger,
	engine *clearing.Engine,
	executor *clearing.Executor,
	rp *repricer.Repricer,
	an *analytics.Service,
	pf feed.PriceFeed,
	region string,
) *Service {
	return &Service{
		store:     st,
		ledger:    ledger,
		engine:    engine,
		executor:  executor,
		repricer:  rp,
		analytics: an,
		feed:      pf,
		region:    region,
	}
}

// --- Request/Response types ---

// SubmitBidRequest is the JSON body for POST /api/v1/bids.
type SubmitBidRequest struct {
	Owner string `json:"owner"`
	market.SubmitRequest
}

// AmendBidRequest is the JSON body for PUT /api/v1/bids/{bidID}.
type AmendBidRequest struct {
	Owner string `json:"owner"`
	market.AmendRequest
}

// ClosePositionRequest is the JSON body for POST /api/v1/positions/{positionID}/close.
type ClosePositionRequest struct {
	Owner string `json:"owner"`
}

// RepriceResponse is returned from POST /api/v1/positions/reprice.
type RepriceResponse struct {
	Repriced int `json:"repriced"`
}

// Dashboard bundles everything a trading UI shows on one screen.
type Dashboard struct {
	Portfolio   *model.Portfolio       `json:"portfolio"`
	Performance *analytics.Performance `json:"performance"`
	Risk        *analytics.Risk        `json:"risk"`
	Positions   []model.Position       `json:"open_positions"`
	Market      *feed.Summary          `json:"market"`
}

// --- Bid handlers ---

// SubmitBid handles POST /api/v1/bids
func (s *Service) SubmitBid(w http.ResponseWriter, r *http.Request) {
	var req SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	bid, err := s.ledger.Submit(r.Context(), req.Owner, req.SubmitRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// GetBid handles GET /api/v1/bids/{bidID}
func (s *Service) GetBid(w http.ResponseWriter, r *http.Request) {
	bid, err := s.store.GetBid(r.Context(), chi.URLParam(r, "bidID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// ListBids handles GET /api/v1/bids?owner=...&status=...
func (s *Service) ListBids(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}
	status := model.BidStatus(r.URL.Query().Get("status"))

	bids, err := s.store.ListBidsByOwner(r.Context(), owner, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// AmendBid handles PUT /api/v1/bids/{bidID}
func (s *Service) AmendBid(w http.ResponseWriter, r *http.Request) {
	var req AmendBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	bid, err := s.ledger.Amend(r.Context(), chi.URLParam(r, "bidID"), req.Owner, req.AmendRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// CancelBid handles DELETE /api/v1/bids/{bidID}?owner=...
func (s *Service) CancelBid(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}

	bid, err := s.ledger.Cancel(r.Context(), chi.URLParam(r, "bidID"), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// ValidateBid handles POST /api/v1/bids/validate — the admission checks
// without creating anything.
func (s *Service) ValidateBid(w http.ResponseWriter, r *http.Request) {
	var req SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	v, err := s.ledger.Validate(r.Context(), req.Owner, req.SubmitRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- Clearing handlers ---

// RunClearing handles POST /api/v1/clearing/{date}/{hour}
func (s *Service) RunClearing(w http.ResponseWriter, r *http.Request) {
	hour, err := strconv.Atoi(chi.URLParam(r, "hour"))
	if err != nil {
		writeError(w, "hour must be an integer", http.StatusBadRequest)
		return
	}
	key := model.SlotKey{TradingDate: chi.URLParam(r, "date"), HourSlot: hour}

	result, err := s.engine.Clear(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetClearingRun handles GET /api/v1/clearing/{date}/{hour}
func (s *Service) GetClearingRun(w http.ResponseWriter, r *http.Request) {
	hour, err := strconv.Atoi(chi.URLParam(r, "hour"))
	if err != nil {
		writeError(w, "hour must be an integer", http.StatusBadRequest)
		return
	}
	key := model.SlotKey{TradingDate: chi.URLParam(r, "date"), HourSlot: hour}

	run, err := s.store.GetClearingRun(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Position handlers ---

// ListPositions handles GET /api/v1/positions?owner=...&include_closed=true
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}
	includeClosed := r.URL.Query().Get("include_closed") == "true"

	positions, err := s.store.ListPositionsByOwner(r.Context(), owner, includeClosed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// RepricePositions handles POST /api/v1/positions/reprice — one on-demand
// repricing sweep against the current reference price.
func (s *Service) RepricePositions(w http.ResponseWriter, r *http.Request) {
	n, err := s.repricer.Tick(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RepriceResponse{Repriced: n})
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	quote, err := s.feed.ReferencePrice(r.Context(), s.region)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pos, err := s.executor.Close(r.Context(),
		chi.URLParam(r, "positionID"), req.Owner, quote.Price, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- Trade and portfolio handlers ---

// ListTrades handles GET /api/v1/trades?owner=...&limit=...
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.store.ListTradesByOwner(r.Context(), owner, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetPortfolio handles GET /api/v1/portfolio/{owner}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetPerformance handles GET /api/v1/portfolio/{owner}/performance
func (s *Service) GetPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.analytics.Performance(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

// GetRisk handles GET /api/v1/portfolio/{owner}/risk
func (s *Service) GetRisk(w http.ResponseWriter, r *http.Request) {
	risk, err := s.analytics.Risk(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, risk)
}

// GetDashboard handles GET /api/v1/portfolio/{owner}/dashboard — the
// one-screen aggregate. Market data is best-effort: a feed outage does
// not hide the owner's own numbers.
func (s *Service) GetDashboard(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	ctx := r.Context()

	pf, err := s.store.GetPortfolio(ctx, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	perf, err := s.analytics.Performance(ctx, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	risk, err := s.analytics.Risk(ctx, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	positions, err := s.store.ListPositionsByOwner(ctx, owner, false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	summary, err := s.feed.MarketSummary(ctx, s.region)
	if err != nil {
		summary = nil
	}

	writeJSON(w, http.StatusOK, Dashboard{
		Portfolio:   pf,
		Performance: perf,
		Risk:        risk,
		Positions:   positions,
		Market:      summary,
	})
}

// --- Market data handlers ---

// GetMarketSummary handles GET /api/v1/market/summary
func (s *Service) GetMarketSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.feed.MarketSummary(r.Context(), s.region)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetReferencePrice handles GET /api/v1/market/price
func (s *Service) GetReferencePrice(w http.ResponseWriter, r *http.Request) {
	quote, err := s.feed.ReferencePrice(r.Context(), s.region)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetDayAheadCurve handles GET /api/v1/market/day-ahead?date=YYYY-MM-DD
func (s *Service) GetDayAheadCurve(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, 1).Format(model.DateLayout)
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	curve, err := s.feed.DayAheadCurve(r.Context(), s.region, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrWindowClosed),
		errors.Is(err, model.ErrQuotaExceeded),
		errors.Is(err, model.ErrAlreadyCleared):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
