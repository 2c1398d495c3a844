package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Client talks to a Jupiter-style swap aggregator over HTTP. It implements
// QuoteProvider, LiquidityProvider, and SwapExecutor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates an aggregator client. The timeout bounds every quote,
// price, and swap call; expired calls surface as transient failures.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type quoteResponse struct {
	InputMint      string   `json:"inputMint"`
	OutputMint     string   `json:"outputMint"`
	InAmount       string   `json:"inAmount"`
	OutAmount      string   `json:"outAmount"`
	PriceImpactPct string   `json:"priceImpactPct"`
	RoutePlan      []string `json:"routePlan"`
}

// GetQuote fetches an executable quote for swapping amount of inputMint into
// outputMint. Any transport or venue error maps to ErrQuoteUnavailable.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount decimal.Decimal) (*models.Quote, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%s",
		c.baseURL, inputMint, outputMint, amount.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"input_mint":  inputMint,
			"output_mint": outputMint,
		}).Warn("Quote request failed")
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: venue returned status %d", ErrQuoteUnavailable, resp.StatusCode)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("%w: bad quote payload: %v", ErrQuoteUnavailable, err)
	}

	inAmount, err := decimal.NewFromString(qr.InAmount)
	if err != nil || !inAmount.IsPositive() {
		return nil, fmt.Errorf("%w: invalid in amount %q", ErrQuoteUnavailable, qr.InAmount)
	}
	outAmount, err := decimal.NewFromString(qr.OutAmount)
	if err != nil || !outAmount.IsPositive() {
		return nil, fmt.Errorf("%w: invalid out amount %q", ErrQuoteUnavailable, qr.OutAmount)
	}
	priceImpact, err := decimal.NewFromString(qr.PriceImpactPct)
	if err != nil {
		priceImpact = decimal.Zero
	}

	return &models.Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		Price:          outAmount.Div(inAmount),
		PriceImpactPct: priceImpact,
		Route:          qr.RoutePlan,
		ExpiresAt:      time.Now().Add(30 * time.Second),
	}, nil
}

// GetCurrentPrice fetches the live price of outputMint per inputMint
func (c *Client) GetCurrentPrice(ctx context.Context, inputMint, outputMint string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/price?inputMint=%s&outputMint=%s", c.baseURL, inputMint, outputMint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: venue returned status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var pr struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price payload: %v", ErrPriceUnavailable, err)
	}

	price, err := decimal.NewFromString(pr.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: invalid price %q", ErrPriceUnavailable, pr.Price)
	}
	return price, nil
}

// GetPairLiquidity fetches available pool liquidity for a pair, denominated
// in the input mint.
func (c *Client) GetPairLiquidity(ctx context.Context, inputMint, outputMint string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/liquidity?inputMint=%s&outputMint=%s", c.baseURL, inputMint, outputMint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build liquidity request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: venue returned status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var lr struct {
		Liquidity string `json:"liquidity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad liquidity payload: %v", ErrPriceUnavailable, err)
	}

	liquidity, err := decimal.NewFromString(lr.Liquidity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid liquidity %q", ErrPriceUnavailable, lr.Liquidity)
	}
	return liquidity, nil
}

type swapRequest struct {
	InputMint         string `json:"inputMint"`
	OutputMint        string `json:"outputMint"`
	InAmount          string `json:"inAmount"`
	OutAmount         string `json:"outAmount"`
	Wallet            string `json:"wallet"`
	SlippageTolerance string `json:"slippageTolerance"`
}

type swapResponse struct {
	Success          bool   `json:"success"`
	Signature        string `json:"signature"`
	Error            string `json:"error"`
	Fee              string `json:"fee"`
	RealizedSlippage string `json:"realizedSlippage"`
}

// ExecuteSwap submits a swap built from the quote. Transport failures return
// an error; venue-reported failures return a result with Success=false.
func (c *Client) ExecuteSwap(ctx context.Context, quote *models.Quote, wallet string, slippageTolerance decimal.Decimal) (*SwapResult, error) {
	body, err := json.Marshal(swapRequest{
		InputMint:         quote.InputMint,
		OutputMint:        quote.OutputMint,
		InAmount:          quote.InAmount.String(),
		OutAmount:         quote.OutAmount.String(),
		Wallet:            wallet,
		SlippageTolerance: slippageTolerance.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap submission failed: venue returned status %d", resp.StatusCode)
	}

	var sr swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("bad swap payload: %w", err)
	}

	fee, err := decimal.NewFromString(sr.Fee)
	if err != nil {
		fee = decimal.Zero
	}
	realized, err := decimal.NewFromString(sr.RealizedSlippage)
	if err != nil {
		realized = decimal.Zero
	}

	return &SwapResult{
		Success:          sr.Success,
		Signature:        sr.Signature,
		Err:              sr.Error,
		Fee:              fee,
		RealizedSlippage: realized,
	}, nil
}
