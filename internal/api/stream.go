package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/solwerk/tradecore/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// TradeHub broadcasts settled trades to connected WebSocket clients. It
// implements engine.TradePublisher.
type TradeHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *logrus.Logger
}

// NewTradeHub creates an empty hub
func NewTradeHub(logger *logrus.Logger) *TradeHub {
	return &TradeHub{
		clients: make(map[*wsClient]bool),
		logger:  logger,
	}
}

// PublishTrade fans a settled trade out to every connected client. Clients
// that fail to receive are dropped.
func (h *TradeHub) PublishTrade(trade *models.Trade) {
	data, err := json.Marshal(trade)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal trade for broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			h.logger.WithError(err).Debug("Dropping slow trade-feed client")
			h.remove(client)
		}
	}
}

func (h *TradeHub) remove(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.conn.Close()
}

// HandleWebSocket upgrades the connection and registers it for the trade feed
func (h *TradeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade trade-feed connection")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			break
		}
	}
}
