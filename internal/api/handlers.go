package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/solwerk/tradecore/internal/auth"
	"github.com/solwerk/tradecore/internal/db"
	"github.com/solwerk/tradecore/internal/engine"
	"github.com/solwerk/tradecore/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *engine.Engine
	AuthService *auth.AuthService
	Logger      *logrus.Logger
}

// NewHandler creates a new handler
func NewHandler(db *db.DB, eng *engine.Engine, authService *auth.AuthService, logger *logrus.Logger) *Handler {
	return &Handler{DB: db, Engine: eng, AuthService: authService, Logger: logger}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const userIDKey contextKey = "user_id"

func userIDFrom(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

type orderRequest struct {
	Type              models.OrderType   `json:"type"`
	Side              models.OrderSide   `json:"side"`
	Wallet            string             `json:"wallet"`
	InputMint         string             `json:"input_mint"`
	OutputMint        string             `json:"output_mint"`
	Amount            decimal.Decimal    `json:"amount"`
	LimitPrice        *decimal.Decimal   `json:"limit_price"`
	StopPrice         *decimal.Decimal   `json:"stop_price"`
	TakeProfitPrice   *decimal.Decimal   `json:"take_profit_price"`
	SlippageTolerance decimal.Decimal    `json:"slippage_tolerance"`
	TimeInForce       models.TimeInForce `json:"time_in_force"`
	ExpiresAt         *time.Time         `json:"expires_at"`
	StrategyID        *string            `json:"strategy_id"`
}

// CreateOrder creates an order and, for market orders, executes it
// synchronously. The response always carries the order; a trade is attached
// when the execution settled.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Wallet == "" {
		http.Error(w, `{"error": "Wallet is required"}`, http.StatusBadRequest)
		return
	}

	order, trade, err := h.Engine.CreateOrder(r.Context(), engine.OrderIntent{
		UserID:            userID,
		Wallet:            req.Wallet,
		Type:              req.Type,
		Side:              req.Side,
		InputMint:         req.InputMint,
		OutputMint:        req.OutputMint,
		Amount:            req.Amount,
		LimitPrice:        req.LimitPrice,
		StopPrice:         req.StopPrice,
		TakeProfitPrice:   req.TakeProfitPrice,
		SlippageTolerance: req.SlippageTolerance,
		TimeInForce:       req.TimeInForce,
		ExpiresAt:         req.ExpiresAt,
		StrategyID:        req.StrategyID,
	})
	if err != nil {
		if order == nil {
			http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		// Order exists but a hard store failure interrupted execution.
		h.Logger.WithError(err).WithField("order_id", order.ID).Error("Order execution errored")
		http.Error(w, `{"error": "Order accepted but execution errored"}`, http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"order": order}
	if trade != nil {
		resp["trade"] = trade
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// GetUserOrders retrieves a user's orders, optionally filtered by status
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	status := models.OrderStatus(r.URL.Query().Get("status"))
	orders, err := h.Engine.GetOrders(r.Context(), userID, status)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(orders)
}

// CancelOrder cancels a pending order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	cancelled, err := h.Engine.CancelOrder(r.Context(), orderID, userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to cancel order"}`, http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, `{"error": "Order not found, not owned, or no longer pending"}`, http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Order cancelled"})
}

// GetUserTrades retrieves a user's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	trades, err := h.DB.GetUserTrades(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(trades)
}

// GetPortfolio retrieves a user's positions
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	positions, err := h.DB.GetUserPositions(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve portfolio"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(positions)
}
