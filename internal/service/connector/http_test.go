package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVenue(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/payout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"payout": 91})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		var req models.PlaceOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Product {
		case "BUSY":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "BAD":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"market closed"}`))
		default:
			_ = json.NewEncoder(w).Encode(models.OrderAck{OrderID: "o-1", TsOpenMs: 1})
		}
	})
	mux.HandleFunc("/orders/o-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "WIN", "pnl": 0.9})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPConnectorRoundTrip(t *testing.T) {
	srv := newVenue(t)
	ctx := context.Background()
	c := NewHTTPConnector(HTTPConfig{BaseURL: srv.URL, Account: "acc"}, ratelimit.New(60))

	require.NoError(t, c.Login(ctx))
	p, err := c.GetCurrentWinRate(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 91.0, p)

	ack, err := c.PlaceOrder(ctx, models.PlaceOrderRequest{Product: "EURUSD", Amount: 1, ClientReqID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", ack.OrderID)
	assert.Equal(t, "cid", ack.ClientReqID)

	conf, err := c.ConfirmOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResultWin, conf.Status)
	assert.Equal(t, "o-1", conf.OrderID)
}

func TestHTTPConnectorClassifiesErrors(t *testing.T) {
	srv := newVenue(t)
	ctx := context.Background()
	c := NewHTTPConnector(HTTPConfig{BaseURL: srv.URL, Account: "acc"}, nil)

	_, err := c.PlaceOrder(ctx, models.PlaceOrderRequest{Product: "BUSY", Amount: 1})
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.True(t, repository.IsTransient(err))

	_, err = c.PlaceOrder(ctx, models.PlaceOrderRequest{Product: "BAD", Amount: 1})
	assert.ErrorIs(t, err, repository.ErrPermanent)
	assert.False(t, repository.IsTransient(err))

	_, err = c.ConfirmOrder(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = c.GetCurrentWinRate(ctx, "EURUSD")
	assert.ErrorIs(t, err, repository.ErrPermanent, "401 without login")
}

func TestHTTPConnectorNetworkErrorIsTransient(t *testing.T) {
	c := NewHTTPConnector(HTTPConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.GetCandles(context.Background(), "EURUSD", 1, 10)
	assert.ErrorIs(t, err, repository.ErrTransient)
}
