package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

func TestParseOrderResponseFilled(t *testing.T) {
	body := `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.02","avgPx":"1891.4","oid":77738308,"cloid":"0x188a0f9ee162351d6d6af5b09b97b1c7"}}]}}}`
	st, err := parseOrderResponse([]byte(body))
	require.NoError(t, err)
	assert.True(t, st.Filled)
	assert.True(t, st.FilledSize.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, int64(77738308), st.Oid)
	assert.Equal(t, "0x188a0f9ee162351d6d6af5b09b97b1c7", st.Cloid)
}

func TestParseOrderResponseResting(t *testing.T) {
	body := `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":42}}]}}}`
	st, err := parseOrderResponse([]byte(body))
	require.NoError(t, err)
	assert.True(t, st.Resting)
	assert.Equal(t, int64(42), st.Oid)
}

func TestParseOrderResponseStatusError(t *testing.T) {
	body := `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Order could not immediately match against any resting orders."}]}}}`
	st, err := parseOrderResponse([]byte(body))
	require.NoError(t, err)
	assert.Contains(t, st.Error, "could not immediately match")
}

func TestParseOrderResponseTopLevelError(t *testing.T) {
	_, err := parseOrderResponse([]byte(`{"status":"err","response":"Insufficient margin"}`))
	require.Error(t, err)
	assert.True(t, IsActionError(err))
}

func TestCheckStatusesCancel(t *testing.T) {
	ok := `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`
	assert.NoError(t, checkStatuses([]byte(ok)))
	bad := `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order was never placed"}]}}}`
	assert.True(t, IsActionError(checkStatuses([]byte(bad))))
}

func TestPlaceOrderPostsSignedAction(t *testing.T) {
	var got SignedAction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"1.5","avgPx":"2500","oid":7}}]}}}`))
	}))
	defer srv.Close()

	signer, err := NewSigner(testKey, false)
	require.NoError(t, err)
	client, err := NewClient(srv.URL, time.Second, signer, "")
	require.NoError(t, err)
	order, err := LimitOrderWire(1, false, decimal.RequireFromString("1.5"), decimal.NewFromInt(2490), false, TifIoc, "0x00000000000000000000000000000001")
	require.NoError(t, err)

	st, err := client.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, st.Filled)
	assert.True(t, st.FilledSize.Equal(decimal.RequireFromString("1.5")))
	assert.NotZero(t, got.Nonce)
	assert.NotEmpty(t, got.Signature.R)
	assert.Nil(t, got.VaultAddress)
}

func TestPostSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	signer, err := NewSigner(testKey, true)
	require.NoError(t, err)
	client, err := NewClient(srv.URL, time.Second, signer, "")
	require.NoError(t, err)
	err = client.UpdateLeverage(context.Background(), 1, 1, true)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, statusErr.RateLimited())
	assert.False(t, statusErr.ServerSide())
}

func TestWithdrawPostsUserSignedAction(t *testing.T) {
	var got struct {
		Action       map[string]any `json:"action"`
		Nonce        uint64         `json:"nonce"`
		Signature    Signature      `json:"signature"`
		VaultAddress *string        `json:"vaultAddress"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"default"}}`))
	}))
	defer srv.Close()

	signer, err := NewSigner(testKey, true)
	require.NoError(t, err)
	client, err := NewClient(srv.URL, time.Second, signer, "")
	require.NoError(t, err)
	dest := signer.Address().Hex()

	require.NoError(t, client.Withdraw(context.Background(), dest, decimal.RequireFromString("14999.5")))
	assert.Equal(t, "withdraw3", got.Action["type"])
	assert.Equal(t, "Mainnet", got.Action["hyperliquidChain"])
	assert.Equal(t, "0x66eee", got.Action["signatureChainId"])
	assert.Equal(t, dest, got.Action["destination"])
	assert.Equal(t, "14999.5", got.Action["amount"])
	assert.EqualValues(t, got.Nonce, got.Action["time"])
	assert.NotEmpty(t, got.Signature.R)
	assert.Nil(t, got.VaultAddress)
}

func TestWithdrawRejectsBadInput(t *testing.T) {
	signer, err := NewSigner(testKey, true)
	require.NoError(t, err)
	client, err := NewClient("http://127.0.0.1:1", time.Second, signer, "")
	require.NoError(t, err)
	assert.Error(t, client.Withdraw(context.Background(), "not-an-address", decimal.NewFromInt(10)))
	assert.Error(t, client.Withdraw(context.Background(), signer.Address().Hex(), decimal.Zero))

	vault, err := NewClient("http://127.0.0.1:1", time.Second, signer, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Error(t, vault.Withdraw(context.Background(), signer.Address().Hex(), decimal.NewFromInt(10)))
}

func TestWithdrawSurfacesExchangeRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"err","response":"Insufficient balance for withdrawal"}`))
	}))
	defer srv.Close()
	signer, err := NewSigner(testKey, true)
	require.NoError(t, err)
	client, err := NewClient(srv.URL, time.Second, signer, "")
	require.NoError(t, err)
	err = client.Withdraw(context.Background(), signer.Address().Hex(), decimal.NewFromInt(10))
	assert.True(t, IsActionError(err))
}
