package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mirrors the transactional store: a commit either claims the
// trade and writes the position, or does neither.
type fakeStore struct {
	mu          sync.Mutex
	positions   map[string]*models.Position
	applied     map[string]bool
	failCommits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		positions: make(map[string]*models.Position),
		applied:   make(map[string]bool),
	}
}

func key(userID int, mint string) string {
	return mint + "/" + string(rune('0'+userID))
}

func (s *fakeStore) GetPosition(ctx context.Context, userID int, mint string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[key(userID, mint)]
	if !ok {
		return &models.Position{
			UserID:      userID,
			Mint:        mint,
			Size:        decimal.Zero,
			AvgPrice:    decimal.Zero,
			Invested:    decimal.Zero,
			RealizedPnL: decimal.Zero,
		}, nil
	}
	cp := *pos
	return &cp, nil
}

func (s *fakeStore) CommitTradeApplication(ctx context.Context, tradeID string, pos *models.Position) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		return false, errors.New("connection reset")
	}
	if s.applied[tradeID] {
		return false, nil
	}
	s.applied[tradeID] = true
	cp := *pos
	s.positions[key(pos.UserID, pos.Mint)] = &cp
	return true, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buyTrade(id string, qty, price string) *models.Trade {
	return &models.Trade{
		ID:         id,
		OrderID:    "order-" + id,
		UserID:     1,
		InputMint:  "USDC",
		OutputMint: "SOL",
		InAmount:   dec(qty).Mul(dec(price)),
		OutAmount:  dec(qty),
		Price:      dec(price),
		Side:       models.OrderSideBuy,
		ExecutedAt: time.Now(),
	}
}

func sellTrade(id string, qty, price string) *models.Trade {
	return &models.Trade{
		ID:         id,
		OrderID:    "order-" + id,
		UserID:     1,
		InputMint:  "SOL",
		OutputMint: "USDC",
		InAmount:   dec(qty),
		OutAmount:  dec(qty).Mul(dec(price)),
		Price:      dec(price),
		Side:       models.OrderSideSell,
		ExecutedAt: time.Now(),
	}
}

func TestApplyTrade_FirstBuyOpensPosition(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	err := m.ApplyTrade(context.Background(), buyTrade("t1", "10", "100"))
	require.NoError(t, err)

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("10")), "size = %s", pos.Size)
	assert.True(t, pos.AvgPrice.Equal(dec("100")), "avg = %s", pos.AvgPrice)
	assert.True(t, pos.Invested.Equal(dec("1000")), "invested = %s", pos.Invested)
	assert.True(t, pos.RealizedPnL.IsZero())
}

func TestApplyTrade_SecondBuyReweightsAverage(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	require.NoError(t, m.ApplyTrade(context.Background(), buyTrade("t1", "10", "100")))
	require.NoError(t, m.ApplyTrade(context.Background(), buyTrade("t2", "10", "200")))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("20")))
	// (10*100 + 10*200) / 20 = 150
	assert.True(t, pos.AvgPrice.Equal(dec("150")), "avg = %s", pos.AvgPrice)
	assert.True(t, pos.Invested.Equal(dec("3000")))
}

func TestApplyTrade_SellRealizesPnL(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	require.NoError(t, m.ApplyTrade(context.Background(), buyTrade("t1", "10", "100")))
	require.NoError(t, m.ApplyTrade(context.Background(), sellTrade("t2", "4", "120")))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("6")), "size = %s", pos.Size)
	// (120 - 100) * 4 = 80
	assert.True(t, pos.RealizedPnL.Equal(dec("80")), "pnl = %s", pos.RealizedPnL)
	// Average price of the remainder is unchanged.
	assert.True(t, pos.AvgPrice.Equal(dec("100")))
	// Invested shrinks proportionally: 1000 - 1000*4/10 = 600.
	assert.True(t, pos.Invested.Equal(dec("600")), "invested = %s", pos.Invested)
}

func TestApplyTrade_SellToZeroKeepsPosition(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	require.NoError(t, m.ApplyTrade(context.Background(), buyTrade("t1", "10", "100")))
	require.NoError(t, m.ApplyTrade(context.Background(), sellTrade("t2", "10", "90")))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.IsZero())
	assert.True(t, pos.Invested.IsZero())
	// (90 - 100) * 10 = -100
	assert.True(t, pos.RealizedPnL.Equal(dec("-100")), "pnl = %s", pos.RealizedPnL)
}

func TestApplyTrade_SellClampsToHeldSize(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	require.NoError(t, m.ApplyTrade(context.Background(), buyTrade("t1", "5", "100")))
	require.NoError(t, m.ApplyTrade(context.Background(), sellTrade("t2", "8", "110")))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	// Spot holdings never go negative.
	assert.False(t, pos.Size.IsNegative())
	assert.True(t, pos.Size.IsZero())
	// Only the held 5 realize P&L: (110-100)*5 = 50.
	assert.True(t, pos.RealizedPnL.Equal(dec("50")), "pnl = %s", pos.RealizedPnL)
}

// A failed commit must leave the trade unclaimed: the retry applies it for
// real instead of being skipped as a replay.
func TestApplyTrade_RetryAfterFailedCommit(t *testing.T) {
	store := newFakeStore()
	store.failCommits = 1
	m := NewManager(store, testLogger())

	trade := buyTrade("t1", "10", "100")
	require.Error(t, m.ApplyTrade(context.Background(), trade))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.IsZero(), "failed commit must not write the position")

	require.NoError(t, m.ApplyTrade(context.Background(), trade))

	pos, _ = store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("10")), "retry must apply the trade, got size %s", pos.Size)
	assert.True(t, pos.Invested.Equal(dec("1000")))
}

// Applying the same trade twice must not double-count size or P&L.
func TestApplyTrade_Idempotent(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	trade := buyTrade("t1", "10", "100")
	require.NoError(t, m.ApplyTrade(context.Background(), trade))
	require.NoError(t, m.ApplyTrade(context.Background(), trade))

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("10")), "replay must not double size, got %s", pos.Size)
	assert.True(t, pos.Invested.Equal(dec("1000")))
}

func TestApplyTrade_ConcurrentSameUserSerialized(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "t" + string(rune('a'+n))
			_ = m.ApplyTrade(context.Background(), buyTrade(id, "1", "100"))
		}(i)
	}
	wg.Wait()

	pos, _ := store.GetPosition(context.Background(), 1, "SOL")
	assert.True(t, pos.Size.Equal(dec("10")), "size = %s", pos.Size)
	assert.True(t, pos.AvgPrice.Equal(dec("100")))
}
