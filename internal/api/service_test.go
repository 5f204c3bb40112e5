package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/analytics"
	"github.com/voltmesh/auction-engine/internal/api"
	"github.com/voltmesh/auction-engine/internal/clearing"
	"github.com/voltmesh/auction-engine/internal/events"
	"github.com/voltmesh/auction-engine/internal/feed"
	"github.com/voltmesh/auction-engine/internal/market"
	"github.com/voltmesh/auction-engine/internal/model"
	"github.com/voltmesh/auction-engine/internal/repricer"
	"github.com/voltmesh/auction-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires a full engine on the in-memory store and simulated
// feed, with the ledger clock pinned before the 11:00 cutoff.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	pf := feed.NewSimulated("CAISO", 1)

	limits := analytics.Limits{
		MaxPositionSizeMWh:  d(1000),
		MaxDailyLoss:        d(50000),
		MaxConcentrationPct: d(25),
	}
	an := analytics.New(ms, limits, d(100000))

	ledger := market.NewLedger(ms, events.Nop{}, 11, 10)
	ledger.SetClock(func() time.Time {
		return time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	})
	executor := clearing.NewExecutor(ms, events.Nop{}, an, d(100000))
	engine := clearing.NewEngine(ms, pf, executor, events.Nop{}, "CAISO")
	rp := repricer.New(ms, pf, events.Nop{}, "CAISO", time.Minute)

	svc := api.NewService(ms, ledger, engine, executor, rp, an, pf, "CAISO")

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/bids", svc.SubmitBid)
		r.Get("/bids", svc.ListBids)
		r.Post("/bids/validate", svc.ValidateBid)
		r.Get("/bids/{bidID}", svc.GetBid)
		r.Put("/bids/{bidID}", svc.AmendBid)
		r.Delete("/bids/{bidID}", svc.CancelBid)
		r.Post("/clearing/{date}/{hour}", svc.RunClearing)
		r.Get("/clearing/{date}/{hour}", svc.GetClearingRun)
		r.Get("/positions", svc.ListPositions)
		r.Post("/positions/reprice", svc.RepricePositions)
		r.Post("/positions/{positionID}/close", svc.ClosePosition)
		r.Get("/trades", svc.ListTrades)
		r.Get("/portfolio/{owner}", svc.GetPortfolio)
		r.Get("/portfolio/{owner}/performance", svc.GetPerformance)
		r.Get("/portfolio/{owner}/risk", svc.GetRisk)
		r.Get("/portfolio/{owner}/dashboard", svc.GetDashboard)
		r.Get("/market/summary", svc.GetMarketSummary)
		r.Get("/market/day-ahead", svc.GetDayAheadCurve)
	})
	return ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitBid(t *testing.T, router chi.Router, owner string, side model.Side, qty, price float64) model.Bid {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/bids", map[string]any{
		"owner":        owner,
		"side":         side,
		"quantity":     qty,
		"price":        price,
		"hour_slot":    14,
		"trading_date": "2026-08-29",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit failed: %d %s", w.Code, w.Body.String())
	}
	var bid model.Bid
	json.Unmarshal(w.Body.Bytes(), &bid)
	return bid
}

func TestSubmitBid_Created(t *testing.T) {
	_, router := newTestEnv(t)

	bid := submitBid(t, router, "trader1", model.SideBuy, 10, 45.5)
	if bid.ID == "" {
		t.Error("expected non-empty bid ID")
	}
	if bid.Status != model.BidPending {
		t.Errorf("expected pending, got %s", bid.Status)
	}
}

func TestSubmitBid_MissingOwner(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/bids", map[string]any{
		"side": "buy", "quantity": 10, "price": 45,
		"hour_slot": 14, "trading_date": "2026-08-29",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSubmitBid_ValidationMapsTo400(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/bids", map[string]any{
		"owner": "trader1", "side": "hold", "quantity": 10, "price": 45,
		"hour_slot": 14, "trading_date": "2026-08-29",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad side, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelBid_Lifecycle(t *testing.T) {
	_, router := newTestEnv(t)

	bid := submitBid(t, router, "trader1", model.SideBuy, 10, 45)

	w := doJSON(t, router, "DELETE", "/api/v1/bids/"+bid.ID+"?owner=trader1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d %s", w.Code, w.Body.String())
	}

	// Cancelling a terminal bid is a 404.
	w = doJSON(t, router, "DELETE", "/api/v1/bids/"+bid.ID+"?owner=trader1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat cancel, got %d", w.Code)
	}
}

func TestAmendBid_UpdatesPrice(t *testing.T) {
	_, router := newTestEnv(t)

	bid := submitBid(t, router, "trader1", model.SideBuy, 10, 45)

	w := doJSON(t, router, "PUT", "/api/v1/bids/"+bid.ID, map[string]any{
		"owner": "trader1", "price": 47.25,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("amend failed: %d %s", w.Code, w.Body.String())
	}

	var amended model.Bid
	json.Unmarshal(w.Body.Bytes(), &amended)
	if !amended.Price.Equal(d(47.25)) {
		t.Errorf("expected price 47.25, got %s", amended.Price)
	}
}

func TestValidateBid_DryRun(t *testing.T) {
	ms, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/bids/validate", map[string]any{
		"owner": "trader1", "side": "buy", "quantity": 10, "price": 45,
		"hour_slot": 14, "trading_date": "2026-08-29",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("validate failed: %d %s", w.Code, w.Body.String())
	}

	var v market.Validation
	json.Unmarshal(w.Body.Bytes(), &v)
	if !v.Valid {
		t.Errorf("expected valid, got %+v", v)
	}

	bids, _ := ms.ListBidsByOwner(context.Background(), "trader1", "")
	if len(bids) != 0 {
		t.Errorf("dry run must not create bids, found %d", len(bids))
	}
}

func TestClearingEndToEnd(t *testing.T) {
	_, router := newTestEnv(t)

	submitBid(t, router, "buyer1", model.SideBuy, 10, 50)
	submitBid(t, router, "buyer2", model.SideBuy, 5, 48)
	submitBid(t, router, "seller1", model.SideSell, 8, 44)
	submitBid(t, router, "seller2", model.SideSell, 6, 46)

	w := doJSON(t, router, "POST", "/api/v1/clearing/2026-08-29/14", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clearing failed: %d %s", w.Code, w.Body.String())
	}

	var res model.ClearingResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.ClearingPrice.Equal(d(48)) {
		t.Errorf("expected clearing price 48, got %s", res.ClearingPrice)
	}
	if res.Executed != 4 {
		t.Errorf("expected 4 executed, got %d", res.Executed)
	}

	// A second run on the same key conflicts.
	w = doJSON(t, router, "POST", "/api/v1/clearing/2026-08-29/14", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on repeat clearing, got %d", w.Code)
	}

	// The run record is queryable.
	w = doJSON(t, router, "GET", "/api/v1/clearing/2026-08-29/14", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get run failed: %d", w.Code)
	}

	// Buyer portfolio reflects the settlement.
	w = doJSON(t, router, "GET", "/api/v1/portfolio/buyer1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio failed: %d", w.Code)
	}
	var pf model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &pf)
	if !pf.CashBalance.Equal(d(100000 - 480)) {
		t.Errorf("buyer cash: %s", pf.CashBalance)
	}

	// Positions and trades are visible.
	w = doJSON(t, router, "GET", "/api/v1/positions?owner=buyer1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("positions failed: %d", w.Code)
	}
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	w = doJSON(t, router, "GET", "/api/v1/trades?owner=buyer1", nil)
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}

func TestClosePositionEndpoint(t *testing.T) {
	_, router := newTestEnv(t)

	submitBid(t, router, "buyer1", model.SideBuy, 10, 50)
	submitBid(t, router, "seller1", model.SideSell, 10, 44)
	if w := doJSON(t, router, "POST", "/api/v1/clearing/2026-08-29/14", nil); w.Code != http.StatusOK {
		t.Fatalf("clearing failed: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, router, "GET", "/api/v1/positions?owner=buyer1", nil)
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	w = doJSON(t, router, "POST", "/api/v1/positions/"+positions[0].ID+"/close",
		map[string]any{"owner": "buyer1"})
	if w.Code != http.StatusOK {
		t.Fatalf("close failed: %d %s", w.Code, w.Body.String())
	}

	var closed model.Position
	json.Unmarshal(w.Body.Bytes(), &closed)
	if !closed.IsClosed {
		t.Error("position should be closed")
	}
}

func TestPortfolioNotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/portfolio/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMarketEndpoints(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/market/summary", nil)
	if w.Code != http.StatusOK {
		t.Errorf("summary: %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/market/day-ahead?date=2026-08-29", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("day-ahead: %d", w.Code)
	}
	var curve []feed.HourlyPrice
	json.Unmarshal(w.Body.Bytes(), &curve)
	if len(curve) != 24 {
		t.Errorf("expected 24-hour curve, got %d", len(curve))
	}

	w = doJSON(t, router, "GET", "/api/v1/market/day-ahead?date=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestRepriceEndpoint(t *testing.T) {
	_, router := newTestEnv(t)

	submitBid(t, router, "buyer1", model.SideBuy, 10, 50)
	submitBid(t, router, "seller1", model.SideSell, 10, 44)
	if w := doJSON(t, router, "POST", "/api/v1/clearing/2026-08-29/14", nil); w.Code != http.StatusOK {
		t.Fatalf("clearing failed: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, router, "POST", "/api/v1/positions/reprice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reprice failed: %d %s", w.Code, w.Body.String())
	}

	var resp api.RepriceResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Repriced != 2 {
		t.Errorf("expected 2 repriced, got %d", resp.Repriced)
	}
}

func TestPerformanceAndRiskEndpoints(t *testing.T) {
	_, router := newTestEnv(t)

	submitBid(t, router, "buyer1", model.SideBuy, 10, 50)
	submitBid(t, router, "seller1", model.SideSell, 10, 44)
	if w := doJSON(t, router, "POST", "/api/v1/clearing/2026-08-29/14", nil); w.Code != http.StatusOK {
		t.Fatalf("clearing failed: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, router, "GET", "/api/v1/portfolio/buyer1/performance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("performance: %d %s", w.Code, w.Body.String())
	}
	var perf analytics.Performance
	json.Unmarshal(w.Body.Bytes(), &perf)
	if perf.TotalTrades != 1 {
		t.Errorf("expected 1 trade, got %d", perf.TotalTrades)
	}

	w = doJSON(t, router, "GET", "/api/v1/portfolio/buyer1/risk", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("risk: %d %s", w.Code, w.Body.String())
	}
	var risk analytics.Risk
	json.Unmarshal(w.Body.Bytes(), &risk)
	if risk.OpenPositions != 1 {
		t.Errorf("expected 1 open position, got %d", risk.OpenPositions)
	}

	w = doJSON(t, router, "GET", "/api/v1/portfolio/buyer1/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", w.Code, w.Body.String())
	}
	var dash api.Dashboard
	json.Unmarshal(w.Body.Bytes(), &dash)
	if dash.Portfolio == nil || dash.Performance == nil || dash.Risk == nil {
		t.Error("dashboard sections missing")
	}
}
