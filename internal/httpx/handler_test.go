package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizalf/go-pickup-orders/internal/clock"
	"github.com/rizalf/go-pickup-orders/internal/fulfill"
	"github.com/rizalf/go-pickup-orders/internal/memstore"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg fulfill.VendorConfig) *httptest.Server {
	t.Helper()
	store := memstore.New()
	store.SeedVendor(cfg)
	store.SeedMenuItem(fulfill.MenuItem{ID: "m1", VendorID: "v1", Name: "Nasi Goreng", PriceCents: 2500, PrepMinutes: 10})

	svc := fulfill.NewService(store, clock.NewFixed(testNow), nil, "fulfillment-test")
	router := NewRouter(nil)
	NewFulfillmentHandler(svc, nil, nil).Register(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func openVendor() fulfill.VendorConfig {
	return fulfill.VendorConfig{
		VendorID:          "v1",
		VendorType:        fulfill.VendorTypeCounter,
		IsAcceptingOrders: true,
		IsOpen:            true,
		StockMode:         fulfill.StockModeSimple,
	}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func checkoutBody() map[string]any {
	return map[string]any{
		"vendor_id": "v1",
		"buyer_id":  "b1",
		"items":     []map[string]any{{"menu_item_id": "m1", "quantity": 2}},
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	ts := newTestServer(t, openVendor())

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(5000), body["total_cents"])
	assert.Len(t, body["pickup_code"], 4)
	assert.NotEmpty(t, body["redemption_token"])
}

func TestCheckoutValidationAndMapping(t *testing.T) {
	ts := newTestServer(t, openVendor())

	t.Run("missing fields", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{"vendor_id": "v1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown vendor", func(t *testing.T) {
		b := checkoutBody()
		b["vendor_id"] = "ghost"
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders", b)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdmissionDeniedMapsTo422(t *testing.T) {
	cfg := openVendor()
	cfg.IsAcceptingOrders = false
	ts := newTestServer(t, cfg)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, openVendor())

	_, created := doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())
	orderID := created["id"].(string)
	code := created["pickup_code"].(string)

	resp, accepted := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", accepted["status"])
	assert.NotEmpty(t, accepted["estimated_ready_time"])

	resp, ready := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ready["status"])

	resp, redeemed := doJSON(t, http.MethodPost, ts.URL+"/vendors/v1/redemptions/code", map[string]any{"code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, redeemed["success"])
	assert.Equal(t, orderID, redeemed["order_id"])

	// The code no longer matches anything redeemable.
	resp, failed := doJSON(t, http.MethodPost, ts.URL+"/vendors/v1/redemptions/code", map[string]any{"code": code})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, failed["success"])

	resp, got := doJSON(t, http.MethodGet, ts.URL+"/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", got["status"])
}

func TestInvalidTransitionMapsTo409(t *testing.T) {
	ts := newTestServer(t, openVendor())

	_, created := doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())
	orderID := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/ready", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRedeemByTokenEndpoint(t *testing.T) {
	ts := newTestServer(t, openVendor())

	_, created := doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())
	orderID := created["id"].(string)
	token := created["redemption_token"].(string)

	doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/accept", nil)
	doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/ready", nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/vendors/v1/redemptions/token", map[string]any{"token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orderID, body["order_id"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/vendors/v1/redemptions/token", map[string]any{"token": token})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestVendorEndpoints(t *testing.T) {
	cfg := openVendor()
	limit := 1
	cfg.OrderLimit = &limit
	ts := newTestServer(t, cfg)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/vendors/v1/can-accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["can_accept"])

	doJSON(t, http.MethodPost, ts.URL+"/orders", checkoutBody())

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/vendors/v1/can-accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["can_accept"])
	assert.NotEmpty(t, body["reason"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/vendors/v1/active-orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/vendors/v1/sequence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sequence_no"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/vendors/v1/eta?items=m1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["estimated_ready_time"])
}

func TestStockEndpoints(t *testing.T) {
	cfg := openVendor()
	cfg.StockMode = fulfill.StockModeDaily
	ts := newTestServer(t, cfg)

	base := fmt.Sprintf("%s/vendors/v1/items/m1", ts.URL)

	resp, body := doJSON(t, http.MethodGet, base+"/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["available"])

	resp, _ = doJSON(t, http.MethodPost, base+"/stock", map[string]any{"total": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, base+"/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, float64(5), body["remaining"])

	resp, body = doJSON(t, http.MethodPost, base+"/stock/reduce", map[string]any{"quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["remaining"])

	resp, body = doJSON(t, http.MethodPost, base+"/stock/reduce", map[string]any{"quantity": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestNewTokenEndpoint(t *testing.T) {
	ts := newTestServer(t, openVendor())

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/tokens", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["token"])
}
