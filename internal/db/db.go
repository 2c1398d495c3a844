package db

import (
	"context"
	"fmt"
	"time"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

const orderColumns = `id, user_id, wallet, type, side, status, input_mint, output_mint,
	amount, limit_price, stop_price, take_profit_price, market_price,
	slippage_tolerance, time_in_force, strategy_id, failure_reason,
	created_at, updated_at, expires_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID, &order.UserID, &order.Wallet, &order.Type, &order.Side,
		&order.Status, &order.InputMint, &order.OutputMint, &order.Amount,
		&order.LimitPrice, &order.StopPrice, &order.TakeProfitPrice,
		&order.MarketPrice, &order.SlippageTolerance, &order.TimeInForce,
		&order.StrategyID, &order.FailureReason,
		&order.CreatedAt, &order.UpdatedAt, &order.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder inserts a new order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	row := db.Pool.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, wallet, type, side, status, input_mint, output_mint,
			amount, limit_price, stop_price, take_profit_price, market_price,
			slippage_tolerance, time_in_force, strategy_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING `+orderColumns,
		order.ID, order.UserID, order.Wallet, order.Type, order.Side, order.Status,
		order.InputMint, order.OutputMint, order.Amount,
		order.LimitPrice, order.StopPrice, order.TakeProfitPrice, order.MarketPrice,
		order.SlippageTolerance, order.TimeInForce, order.StrategyID, order.ExpiresAt)

	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetUserOrders retrieves a user's orders, optionally filtered by status,
// newest first.
func (db *DB) GetUserOrders(ctx context.Context, userID int, status models.OrderStatus) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = $1"
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// GetPendingOrders retrieves all PENDING orders oldest first, so the
// scheduler evaluates them in creation order.
func (db *DB) GetPendingOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 ORDER BY created_at ASC",
		models.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// TransitionOrderStatus moves an order from an expected status to a new one
// in a single conditional update. It returns false when the order was not in
// the expected status, which is how concurrent transitions on the same order
// are resolved: whichever update commits first wins.
func (db *DB) TransitionOrderStatus(ctx context.Context, orderID string, expected, next models.OrderStatus, reason string) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE orders SET status = $1, failure_reason = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		next, reason, orderID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to transition order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelOrder cancels an order if it belongs to the user and is still
// pending. The conditional update is the same CAS used by execution, so a
// cancel racing a scheduler-triggered execution commits at most once.
func (db *DB) CancelOrder(ctx context.Context, orderID string, userID int) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND user_id = $3 AND status = $4`,
		models.OrderStatusCancelled, orderID, userID, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertTrade appends a trade record. Trades are immutable once inserted.
func (db *DB) InsertTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	newTrade := &models.Trade{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO trades (id, order_id, user_id, input_mint, output_mint, in_amount,
			out_amount, price, side, signature, status, fee, realized_slippage, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, order_id, user_id, input_mint, output_mint, in_amount, out_amount,
			price, side, signature, status, fee, realized_slippage, executed_at`,
		trade.ID, trade.OrderID, trade.UserID, trade.InputMint, trade.OutputMint,
		trade.InAmount, trade.OutAmount, trade.Price, trade.Side, trade.Signature,
		trade.Status, trade.Fee, trade.RealizedSlippage, trade.ExecutedAt).Scan(
		&newTrade.ID, &newTrade.OrderID, &newTrade.UserID, &newTrade.InputMint,
		&newTrade.OutputMint, &newTrade.InAmount, &newTrade.OutAmount, &newTrade.Price,
		&newTrade.Side, &newTrade.Signature, &newTrade.Status, &newTrade.Fee,
		&newTrade.RealizedSlippage, &newTrade.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert trade: %w", err)
	}
	return newTrade, nil
}

// GetUserTrades retrieves a user's trade history, newest first
func (db *DB) GetUserTrades(ctx context.Context, userID int) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, order_id, user_id, input_mint, output_mint, in_amount, out_amount,
			price, side, signature, status, fee, realized_slippage, executed_at
		 FROM trades WHERE user_id = $1 ORDER BY executed_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var trade models.Trade
		if err := rows.Scan(&trade.ID, &trade.OrderID, &trade.UserID, &trade.InputMint,
			&trade.OutputMint, &trade.InAmount, &trade.OutAmount, &trade.Price,
			&trade.Side, &trade.Signature, &trade.Status, &trade.Fee,
			&trade.RealizedSlippage, &trade.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// CommitTradeApplication claims the trade and writes the recomputed position
// in one transaction. Returns false when the trade was already applied. If
// the position write fails the claim rolls back with it, so the trade stays
// unclaimed and a retry can apply it.
func (db *DB) CommitTradeApplication(ctx context.Context, tradeID string, pos *models.Position) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin trade application: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"INSERT INTO portfolio_applies (trade_id) VALUES ($1) ON CONFLICT (trade_id) DO NOTHING",
		tradeID)
	if err != nil {
		return false, fmt.Errorf("failed to mark trade applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, mint, size, avg_price, invested, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id, mint) DO UPDATE SET
			size = EXCLUDED.size, avg_price = EXCLUDED.avg_price,
			invested = EXCLUDED.invested, realized_pnl = EXCLUDED.realized_pnl,
			updated_at = NOW()`,
		pos.UserID, pos.Mint, pos.Size, pos.AvgPrice, pos.Invested, pos.RealizedPnL); err != nil {
		return false, fmt.Errorf("failed to upsert position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit trade application: %w", err)
	}
	return true, nil
}

// GetPosition retrieves the position for a user and mint. A missing row is
// returned as a zero-valued position, not an error.
func (db *DB) GetPosition(ctx context.Context, userID int, mint string) (*models.Position, error) {
	pos := &models.Position{}
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id, mint, size, avg_price, invested, realized_pnl, updated_at
		 FROM positions WHERE user_id = $1 AND mint = $2`,
		userID, mint).Scan(&pos.UserID, &pos.Mint, &pos.Size, &pos.AvgPrice,
		&pos.Invested, &pos.RealizedPnL, &pos.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &models.Position{
			UserID:      userID,
			Mint:        mint,
			Size:        decimal.Zero,
			AvgPrice:    decimal.Zero,
			Invested:    decimal.Zero,
			RealizedPnL: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return pos, nil
}

// GetUserPositions retrieves all positions for a user
func (db *DB) GetUserPositions(ctx context.Context, userID int) ([]models.Position, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT user_id, mint, size, avg_price, invested, realized_pnl, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY mint`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var pos models.Position
		if err := rows.Scan(&pos.UserID, &pos.Mint, &pos.Size, &pos.AvgPrice,
			&pos.Invested, &pos.RealizedPnL, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// CountUserOrdersSince counts a user's orders created at or after the given
// time, excluding the given order id. The order under validation is already
// persisted as PENDING, so it must not count against its own rate limit.
// The count lives in the store, not in process memory, so it is correct
// across concurrent service instances.
func (db *DB) CountUserOrdersSince(ctx context.Context, userID int, since time.Time, excludeOrderID string) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1 AND created_at >= $2 AND id <> $3",
		userID, since, excludeOrderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user orders: %w", err)
	}
	return count, nil
}

// SumOpenOrderNotional sums the amounts of a user's pending orders, excluding
// the given order id so the order under validation is not counted in its own
// exposure.
func (db *DB) SumOpenOrderNotional(ctx context.Context, userID int, excludeOrderID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.Pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM orders WHERE user_id = $1 AND status = $2 AND id <> $3",
		userID, models.OrderStatusPending, excludeOrderID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum open order notional: %w", err)
	}
	return sum, nil
}
