// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests need no database: services are replaced by small fakes and the
// real AuthService signs and verifies tokens.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/api"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeBids struct {
	err  error
	last domain.SubmitBidRequest
	seen domain.Settings
}

func (f *fakeBids) SubmitBid(_ context.Context, req domain.SubmitBidRequest, s domain.Settings) (*domain.BidAccepted, error) {
	f.last, f.seen = req, s
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BidAccepted{
		BidID:        uuid.New(),
		LotID:        req.LotID,
		CurrentPrice: req.Amount,
		Leading:      true,
	}, nil
}

type fakeLots struct{ views map[uuid.UUID]domain.LotView }

func (f *fakeLots) GetPublicLot(_ context.Context, id uuid.UUID) (domain.LotView, error) {
	v, ok := f.views[id]
	if !ok {
		return domain.LotView{}, fmt.Errorf("lot_repo.GetByID: %w", domain.ErrLotNotFound)
	}
	return v, nil
}

type fakeRegistrar struct{}

func (fakeRegistrar) RegisterForEvent(_ context.Context, eventID, bidderID uuid.UUID, instrumentRef string) (*domain.Registration, error) {
	if instrumentRef == "" {
		return nil, domain.ErrInstrumentRequired
	}
	return &domain.Registration{EventID: eventID, BidderID: bidderID, InstrumentRef: instrumentRef}, nil
}

type fixedSettings domain.Settings

func (s fixedSettings) Snapshot() domain.Settings { return domain.Settings(s) }

// ── Test helpers ──────────────────────────────────────────────────────────────

type testEnv struct {
	h    http.Handler
	auth *service.AuthService
	bids *fakeBids
	lots *fakeLots
}

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:          "development",
			Port:         "8080",
			BidRateLimit: 100,
		},
		JWT: config.JWTConfig{
			AccessSecret: "test-access-secret-abcdefghijklmnop",
			AccessTTL:    15 * time.Minute,
			Issuer:       "auction",
		},
	}
}

func buildTestRouter(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	env := &testEnv{
		auth: service.NewAuthService(cfg.JWT),
		bids: &fakeBids{},
		lots: &fakeLots{views: map[uuid.UUID]domain.LotView{}},
	}
	env.h = api.SetupRouter(api.RouterDeps{
		Auth:      env.auth,
		Bids:      env.bids,
		Lots:      env.lots,
		Registrar: fakeRegistrar{},
		Settings:  fixedSettings{PremiumRate: decimal.RequireFromString("0.15"), TaxRate: decimal.RequireFromString("0.20")},
		Cfg:       cfg,
	})
	return env
}

func (e *testEnv) token(t *testing.T, bidder uuid.UUID) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueAccessToken(bidder, domain.RoleBidder)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return m
}

func bidPath(lot uuid.UUID) string { return "/api/lots/" + lot.String() + "/bids" }

// ── /health, /metrics ─────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	rr := do(t, env.h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	rr := do(t, env.h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rr.Code)
	}
}

// ── Lots ──────────────────────────────────────────────────────────────────────

func TestGetLot_IsPublic(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	id := uuid.New()
	leader := uuid.New()
	env.lots.views[id] = domain.LotView{ID: id, CurrentPrice: decimal.NewFromInt(250), Status: domain.LotStatusLive, WinnerID: &leader}

	rr := do(t, env.h, http.MethodGet, "/api/lots/"+id.String(), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET lot = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	data, _ := body["data"].(map[string]interface{})
	if data["current_price"] != "250" {
		t.Errorf("current_price = %v, want \"250\"", data["current_price"])
	}
	if strings.Contains(rr.Body.String(), "ceiling") {
		t.Errorf("public lot view leaks a ceiling: %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), leader.String()) || data["winner_id"] != nil {
		t.Errorf("public lot view leaks the leader: %s", rr.Body.String())
	}
}

func TestGetLot_NotFoundAndBadID(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	if rr := do(t, env.h, http.MethodGet, "/api/lots/"+uuid.NewString(), "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown lot = %d, want 404", rr.Code)
	}
	rr := do(t, env.h, http.MethodGet, "/api/lots/not-a-uuid", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "ERR_INVALID_LOT_ID" {
		t.Errorf("code = %v", body["code"])
	}
}

// ── JWT auth middleware ───────────────────────────────────────────────────────

func TestSubmitBid_NoToken_Returns401(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	rr := do(t, env.h, http.MethodPost, bidPath(uuid.New()), `{"amount":"100.00"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST bids without token = %d, want 401", rr.Code)
	}
}

func TestSubmitBid_InvalidToken_Returns401(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	foreign := service.NewAuthService(config.JWTConfig{AccessSecret: "another-secret", AccessTTL: time.Minute})
	tok, _ := foreign.IssueAccessToken(uuid.New(), domain.RoleBidder)

	rr := do(t, env.h, http.MethodPost, bidPath(uuid.New()), `{"amount":"100.00"}`, map[string]string{
		"Authorization": "Bearer " + tok,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("POST bids with foreign JWT = %d, want 401", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "ERR_TOKEN_INVALID" {
		t.Errorf("code = %v, want ERR_TOKEN_INVALID", body["code"])
	}
}

func TestRegister_NoToken_Returns401(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	rr := do(t, env.h, http.MethodPost, "/api/events/"+uuid.NewString()+"/register", `{"instrument_ref":"pm_1"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST register without token = %d, want 401", rr.Code)
	}
}

// ── Bids ──────────────────────────────────────────────────────────────────────

func TestSubmitBid_Accepted(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	bidder, lot := uuid.New(), uuid.New()

	rr := do(t, env.h, http.MethodPost, bidPath(lot), `{"amount":"350.00","attempt":2}`, env.token(t, bidder))
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST bids = %d, want 201, body: %s", rr.Code, rr.Body.String())
	}
	if env.bids.last.BidderID != bidder || env.bids.last.LotID != lot || env.bids.last.Attempt != 2 {
		t.Errorf("request = %+v", env.bids.last)
	}
	if !env.bids.last.Amount.Equal(decimal.RequireFromString("350")) {
		t.Errorf("amount = %s, want 350", env.bids.last.Amount)
	}
	if !env.bids.seen.TaxRate.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("settings snapshot not passed through: %+v", env.bids.seen)
	}
	if body := decodeBody(t, rr); body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
}

func TestSubmitBid_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"race lost", fmt.Errorf("arbitration.SubmitBid: %w", domain.ErrRaceLost), http.StatusConflict, "RACE_LOST", true},
		{"too low", domain.ErrBidTooLow, http.StatusUnprocessableEntity, "BID_TOO_LOW", false},
		{"not registered", domain.ErrNotRegistered, http.StatusForbidden, "NOT_REGISTERED", false},
		{"closed", domain.ErrBiddingClosed, http.StatusConflict, "BIDDING_CLOSED", false},
		{"declined", fmt.Errorf("arbitration.SubmitBid: %w", domain.ErrAuthorizationDeclined), http.StatusPaymentRequired, "AUTHORIZATION_DECLINED", false},
		{"gateway down", domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := buildTestRouter(t, testCfg())
			env.bids.err = tc.err
			rr := do(t, env.h, http.MethodPost, bidPath(uuid.New()), `{"amount":"100"}`, env.token(t, uuid.New()))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			body := decodeBody(t, rr)
			if body["code"] != tc.code {
				t.Errorf("code = %v, want %s", body["code"], tc.code)
			}
			if body["retryable"] != tc.retryable {
				t.Errorf("retryable = %v, want %v", body["retryable"], tc.retryable)
			}
			if msg, _ := body["error"].(string); strings.Contains(msg, "arbitration.") {
				t.Errorf("error leaks internal prefix: %q", msg)
			}
		})
	}
}

func TestSubmitBid_MalformedAmount(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	rr := do(t, env.h, http.MethodPost, bidPath(uuid.New()), `{"amount":"lots"}`, env.token(t, uuid.New()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "INVALID_AMOUNT" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestSubmitBid_RateLimitedPerBidder(t *testing.T) {
	cfg := testCfg()
	cfg.Server.BidRateLimit = 0.001
	env := buildTestRouter(t, cfg)
	headers := env.token(t, uuid.New())
	lot := uuid.New()

	var last int
	for i := 0; i < 4; i++ {
		last = do(t, env.h, http.MethodPost, bidPath(lot), `{"amount":"100"}`, headers).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("4th bid in a burst = %d, want 429", last)
	}

	other := do(t, env.h, http.MethodPost, bidPath(lot), `{"amount":"100"}`, env.token(t, uuid.New()))
	if other.Code != http.StatusCreated {
		t.Errorf("another bidder = %d, want 201", other.Code)
	}
}

// ── Registration ──────────────────────────────────────────────────────────────

func TestRegister_RequiresInstrument(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	path := "/api/events/" + uuid.NewString() + "/register"

	rr := do(t, env.h, http.MethodPost, path, `{}`, env.token(t, uuid.New()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "INSTRUMENT_REQUIRED" {
		t.Errorf("code = %v", body["code"])
	}

	rr = do(t, env.h, http.MethodPost, path, `{"instrument_ref":"pm_1"}`, env.token(t, uuid.New()))
	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "pm_1") {
		t.Errorf("registration response leaks the instrument: %s", rr.Body.String())
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	env := buildTestRouter(t, testCfg())
	req := httptest.NewRequest(http.MethodOptions, "/api/lots/"+uuid.NewString()+"/bids", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS = %d, want 204 or 200", rr.Code)
	}
	if allow := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}
