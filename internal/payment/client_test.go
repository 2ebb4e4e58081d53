package payment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, url string, retries int) *payment.Client {
	t.Helper()
	return payment.NewClient(payment.ClientConfig{
		BaseURL:       url,
		APIKey:        "test-key",
		SigningSecret: "s3cret",
		Currency:      "EUR",
		Timeout:       2 * time.Second,
		MaxRetries:    retries,
		BackoffBase:   time.Millisecond,
		Breaker:       payment.BreakerSettings{MaxFailures: 3, OpenTimeout: time.Minute},
	}, nil)
}

func TestCreateHold_SendsIdempotencyKeyAndSignature(t *testing.T) {
	var gotKey, gotSig, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/holds", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotSig = r.Header.Get("X-Signature")
		gotAuth = r.Header.Get("Authorization")

		raw, _ := io.ReadAll(r.Body)
		assert.Equal(t, payment.Sign(raw, []byte("s3cret")), gotSig)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"hold_ref":"hold_123","status":"authorized","amount":"1518.00"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 0)
	res, err := client.CreateHold(context.Background(), payment.HoldRequest{
		Amount:         decimal.RequireFromString("1518.00"),
		InstrumentRef:  "card_abc",
		IdempotencyKey: "bid:a:b:1100.00:1",
		BidderID:       uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, "hold_123", res.Ref)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("1518")))
	assert.Equal(t, "bid:a:b:1100.00:1", gotKey)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "EUR", gotBody["currency"])
	assert.Equal(t, "card_abc", gotBody["instrument_ref"])
}

func TestCreateHold_DeclineIsAuthorizationFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"card_declined","message":"insufficient funds"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 3)
	_, err := client.CreateHold(context.Background(), payment.HoldRequest{
		Amount: decimal.NewFromInt(10), IdempotencyKey: "k",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthorizationDeclined)
	assert.True(t, domain.IsAuthorizationFailure(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "declines must not be retried")
}

func TestCaptureHold_RetriesServerErrorsWithSameKey(t *testing.T) {
	var calls int32
	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/holds/hold_9/capture", r.URL.Path)
		_, _ = w.Write([]byte(`{"capture_ref":"cap_1","hold_ref":"hold_9","status":"captured","amount":"1518.00"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 3)
	res, err := client.CaptureHold(context.Background(), "hold_9", decimal.RequireFromString("1518.00"), "capture:sale-1")
	require.NoError(t, err)
	assert.Equal(t, "cap_1", res.Ref)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	close(keys)
	for k := range keys {
		assert.Equal(t, "capture:sale-1", k)
	}
}

func TestCancelHold_ExhaustedRetriesAreGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 1)
	err := client.CancelHold(context.Background(), "hold_1", "cancel:hold_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestClient_BreakerOpensAfterRepeatedOutages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 0)
	for i := 0; i < 3; i++ {
		_ = client.CancelHold(context.Background(), "h", "k")
	}
	assert.Equal(t, payment.StateOpen, client.BreakerState())

	err := client.CancelHold(context.Background(), "h", "k")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, payment.ErrBreakerOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open breaker must short-circuit")
}

func TestCancelHold_UnknownHold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 2)
	for i := 0; i < 4; i++ {
		err := client.CancelHold(context.Background(), "missing", "k")
		assert.ErrorIs(t, err, domain.ErrHoldNotFound)
	}
	assert.Equal(t, payment.StateClosed, client.BreakerState(), "404s are answers, not outages")
}
