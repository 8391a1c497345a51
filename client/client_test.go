package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session/connect", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "keypair", body["provider"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":    "connected",
			"provider": "keypair",
			"address":  "wallet123",
			"busy":     false,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	session, err := client.Connect(context.Background(), "keypair")
	require.NoError(t, err)
	assert.Equal(t, "connected", session.State)
	assert.Equal(t, "wallet123", session.Address)
}

func TestConnect_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "user rejected the request",
			"kind":  "user_rejected",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Connect(context.Background(), "keypair")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "user_rejected", apiErr.Kind)
	assert.Contains(t, err.Error(), "user rejected the request")
	assert.Nil(t, apiErr.Payment)
}

func TestDisconnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session/disconnect", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]interface{}{"state": "disconnected"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	session, err := client.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disconnected", session.State)
	assert.Empty(t, session.Address)
}

func TestRefreshBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/balance/refresh", r.URL.Path)
		w.Write([]byte(`{"owner":"wallet123","amount":"12.5","raw_amount":12500000,"decimals":6,"exists":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	balance, err := client.RefreshBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, uint64(12_500_000), balance.RawAmount)
	assert.Equal(t, uint8(6), balance.Decimals)
	assert.True(t, balance.Exists)
}

func TestBalance_NotConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"wallet not connected","kind":"not_connected"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Balance(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_connected", apiErr.Kind)
}

func TestMint_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/mint", r.URL.Path)
		w.Write([]byte(`{"request_id":"req-1","signature":"sig123","status":"confirmed","slot":42,"attempts":2}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	payment, err := client.Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "req-1", payment.RequestID)
	assert.Equal(t, "sig123", payment.Signature)
	assert.Equal(t, "confirmed", payment.Status)
	assert.Equal(t, uint64(42), payment.Slot)
}

func TestMint_TimedOutKeepsSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		w.Write([]byte(`{"request_id":"req-2","signature":"sig456","status":"timed_out","error":"confirmation timed out","kind":"timed_out"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Mint(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "timed_out", apiErr.Kind)
	require.NotNil(t, apiErr.Payment)
	assert.Equal(t, "sig456", apiErr.Payment.Signature)
	assert.Equal(t, "timed_out", apiErr.Payment.Status)
}

func TestTransfer_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfer", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recipient123", body["to"])
		assert.Equal(t, "1.5", body["amount"])

		w.Write([]byte(`{"signature":"sig789","status":"confirmed"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	payment, err := client.Transfer(context.Background(), "recipient123", decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "sig789", payment.Signature)
}

func TestListMints_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/mints/wallet123", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"owner":"wallet123","count":2,"mints":[
			{"request_id":"a","owner":"wallet123","signature":"sig-a","amount":10000000,"slot":7},
			{"request_id":"b","owner":"wallet123","signature":"sig-b","amount":10000000,"slot":9}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	receipts, err := client.ListMints(context.Background(), "wallet123", 10)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "sig-a", receipts[0].Signature)
	assert.Equal(t, int64(9), receipts[1].Slot)
}

func TestListMints_DefaultLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"mints":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	receipts, err := client.ListMints(context.Background(), "wallet123", 0)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestInvoice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/mint/invoice", r.URL.Path)
		w.Write([]byte(`{"id":"inv-1","amount":"10.000000","raw_amount":10000000,"payment_url":"solana:abc?amount=10"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	invoice, err := client.Invoice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inv-1", invoice.ID)
	assert.Equal(t, uint64(10_000_000), invoice.RawAmount)
	assert.Equal(t, "solana:abc?amount=10", invoice.PaymentURL)
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Session(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream unavailable")
	assert.Empty(t, apiErr.Kind)
}

func TestHealth(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	require.NoError(t, client.Health(context.Background()))

	status = http.StatusServiceUnavailable
	err := client.Health(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "unhealthy status: 503")
}

func TestHealth_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(url, nil, nil).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
