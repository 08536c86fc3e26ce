package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/registry"
)

var errSubscriberClosed = errors.New("subscriber connection closed")

// SubscribeHandler upgrades GET /subscribe to a WebSocket and registers the
// connection as a real-time subscriber until it goes away
type SubscribeHandler struct {
	Registry     *registry.Registry
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func NewSubscribeHandler(reg *registry.Registry, writeTimeout time.Duration, logger *zap.Logger) *SubscribeHandler {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &SubscribeHandler{
		Registry:     reg,
		WriteTimeout: writeTimeout,
		Logger:       logger,
	}
}

// RequireUpgrade rejects plain HTTP requests to the subscription endpoint
func (h *SubscribeHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler returns the WebSocket handler
func (h *SubscribeHandler) Handler() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *SubscribeHandler) serve(conn *websocket.Conn) {
	sub := &wsSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: h.WriteTimeout,
	}

	if err := h.Registry.Add(sub); err != nil {
		h.Logger.Warn("Refusing subscriber", zap.Error(err))
		_ = sub.Close()
		return
	}

	// The connection is released when serve returns, so it must leave the
	// registry first.
	defer func() {
		h.Registry.Remove(sub.id)
		_ = sub.Close()
	}()

	// Inbound frames are ignored; reading only detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Logger.Debug("Subscriber read ended",
				zap.String("subscriber_id", sub.id),
				zap.Error(err),
			)
			return
		}
	}
}

// wsSubscriber adapts a WebSocket connection to registry.Subscriber
type wsSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSubscriberClosed
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
