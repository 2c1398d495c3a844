package venue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testQuote() *models.Quote {
	return &models.Quote{
		InputMint:  "USDC",
		OutputMint: "SOL",
		InAmount:   decimal.NewFromInt(100),
		OutAmount:  decimal.NewFromInt(2),
		Price:      dec("0.02"),
		ExpiresAt:  time.Now().Add(30 * time.Second),
	}
}

func TestClient_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("inputMint"))
		assert.Equal(t, "SOL", r.URL.Query().Get("outputMint"))
		assert.Equal(t, "100", r.URL.Query().Get("amount"))
		w.Write([]byte(`{"inputMint":"USDC","outputMint":"SOL","inAmount":"100","outAmount":"2","priceImpactPct":"0.05","routePlan":["Orca"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	quote, err := c.GetQuote(context.Background(), "USDC", "SOL", decimal.NewFromInt(100))

	require.NoError(t, err)
	assert.True(t, quote.InAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, quote.OutAmount.Equal(decimal.NewFromInt(2)))
	// Implied price = out / in = 0.02
	assert.True(t, quote.Price.Equal(dec("0.02")), "price = %s", quote.Price)
	assert.Equal(t, []string{"Orca"}, quote.Route)
}

func TestClient_GetQuote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	_, err := c.GetQuote(context.Background(), "USDC", "SOL", decimal.NewFromInt(100))

	assert.True(t, errors.Is(err, ErrQuoteUnavailable), "got %v", err)
}

func TestClient_GetQuote_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, testLogger())
	_, err := c.GetQuote(context.Background(), "USDC", "SOL", decimal.NewFromInt(100))

	assert.True(t, errors.Is(err, ErrQuoteUnavailable), "got %v", err)
}

func TestClient_GetQuote_BadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inAmount":"0","outAmount":"2"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	_, err := c.GetQuote(context.Background(), "USDC", "SOL", decimal.NewFromInt(100))

	assert.True(t, errors.Is(err, ErrQuoteUnavailable))
}

func TestClient_GetCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		w.Write([]byte(`{"price":"0.021"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	price, err := c.GetCurrentPrice(context.Background(), "USDC", "SOL")

	require.NoError(t, err)
	assert.True(t, price.Equal(dec("0.021")))
}

func TestClient_GetCurrentPrice_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	_, err := c.GetCurrentPrice(context.Background(), "USDC", "SOL")

	assert.True(t, errors.Is(err, ErrPriceUnavailable), "got %v", err)
}

func TestClient_GetPairLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/liquidity", r.URL.Path)
		w.Write([]byte(`{"liquidity":"123456.78"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	liquidity, err := c.GetPairLiquidity(context.Background(), "USDC", "SOL")

	require.NoError(t, err)
	assert.True(t, liquidity.Equal(dec("123456.78")))
}

func TestClient_ExecuteSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"success":true,"signature":"abc123","fee":"0.000005","realizedSlippage":"0.002"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	result, err := c.ExecuteSwap(context.Background(), testQuote(), "wallet1", dec("0.01"))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "abc123", result.Signature)
	assert.True(t, result.Fee.Equal(dec("0.000005")))
	assert.True(t, result.RealizedSlippage.Equal(dec("0.002")))
}

func TestClient_ExecuteSwap_VenueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"slippage exceeded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	result, err := c.ExecuteSwap(context.Background(), testQuote(), "wallet1", dec("0.01"))

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "slippage exceeded", result.Err)
}

func TestClient_ExecuteSwap_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	_, err := c.ExecuteSwap(context.Background(), testQuote(), "wallet1", dec("0.01"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestClient_ExecuteSwap_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, testLogger())
	_, err := c.ExecuteSwap(context.Background(), testQuote(), "wallet1", dec("0.01"))

	assert.Error(t, err)
}
