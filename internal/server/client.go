// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, identification, and lifecycle control for each
// connection.
package server

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ClientOptions carries the per-connection limits taken from Config.
type ClientOptions struct {
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
}

func clientOptionsFrom(cfg *Config) ClientOptions {
	return ClientOptions{
		MaxMessageSize: cfg.MaxMessageSize,
		SendBufferSize: cfg.SendBufferSize,
		RateLimit:      cfg.RateLimit,
	}
}

// Client is one WebSocket connection and the session riding on it. It is the
// registry.Handle the router pushes to.
type Client struct {
	id             string
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	mode           IdentifyMode
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger

	state       atomic.Int32
	releaseOnce sync.Once

	mu       sync.Mutex
	identity chat.Identity
	send     chan []byte
	closed   bool
}

// NewClient creates a Client in the Connecting state for the given WebSocket
// connection. The client's send channel is buffered to handle message
// queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, mode IdentifyMode, opts ClientOptions) *Client {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	id := uuid.NewString()
	logger := zerolog.Nop()
	if hub != nil {
		logger = hub.base
	}

	c := &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		mode:           mode,
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		rateLimit:      opts.RateLimit,
		send:           make(chan []byte, opts.SendBufferSize),
		logger: logger.With().
			Str("component", "client").
			Str("conn_id", id).
			Str("remote_addr", addr).
			Logger(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the connection id used in logs.
func (c *Client) ID() string { return c.id }

// State returns the lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Identity returns the identity bound to the connection, zero until identified.
func (c *Client) Identity() chat.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// identify binds identity to a Connecting client and moves it to Identified.
func (c *Client) identify(identity chat.Identity) bool {
	c.mu.Lock()
	if c.State() != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.identity = identity
	c.mu.Unlock()

	return c.transition(StateConnecting, StateIdentified)
}

func (c *Client) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Client) swapState(to State) State {
	return State(c.state.Swap(int32(to)))
}

// Push queues msg for delivery without blocking. A full buffer means the peer
// is not keeping up; the connection is closed and ErrSendBufferFull returned.
func (c *Client) Push(msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) sendHistory(messages []chat.Message) error {
	payload, err := json.Marshal(historyFrame{Type: "history", Messages: messages})
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
	}

	c.logger.Warn().Msg("send buffer full; closing slow connection")
	c.Close()
	return ErrSendBufferFull
}

// closeSend closes the outbound queue once, which stops the write pump.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Close closes the underlying connection. The read pump notices and runs
// the normal teardown.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error closing connection")
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error according to how the connection ended.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected WebSocket error")
	default:
		c.logger.Debug().Err(err).Msg("WebSocket read error")
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		metrics.FramesDiscarded.WithLabelValues("rate_limited").Inc()
		return false
	}
	return true
}

// processFrame decodes one inbound frame and acts on it. Anything unusable
// is discarded; the connection stays open.
func (c *Client) processFrame(raw []byte) {
	event, err := chat.DecodeEvent(raw)
	if err != nil {
		c.discard("malformed", err)
		return
	}

	switch e := event.(type) {
	case chat.RegisterEvent:
		c.handleRegister(e)
	case chat.MessageEvent:
		c.handleMessage(e)
	}
}

func (c *Client) handleRegister(e chat.RegisterEvent) {
	if c.mode != IdentifyRegister || c.State() != StateConnecting {
		c.discard("already_identified", nil)
		return
	}

	userID, err := chat.ParseUserID(e.UserID)
	if err != nil {
		c.discard("invalid_user_id", err)
		return
	}
	if c.identify(chat.User(userID)) {
		c.hub.activate(c)
	}
}

func (c *Client) handleMessage(e chat.MessageEvent) {
	if c.State() != StateActive {
		c.discard("unidentified", nil)
		return
	}

	msg, err := c.bindMessage(e)
	if err != nil {
		c.discard(bindFailureReason(err), err)
		return
	}

	if _, err := c.hub.router.Route(context.Background(), msg); err != nil {
		c.discard("invalid", err)
	}
}

// bindMessage builds the canonical message with the sender fixed to the
// connection's own identity. Admin frames must name a real user; on user
// frames any spelling of "admin" addresses the admin role.
func (c *Client) bindMessage(e chat.MessageEvent) (chat.Message, error) {
	identity := c.Identity()

	if identity.IsAdmin() {
		if e.Recipient == "" {
			return chat.NewMessage(chat.Admin(), chat.Identity{}, e.Text), nil
		}
		userID, err := chat.ParseUserID(e.Recipient)
		if err != nil {
			return chat.Message{}, err
		}
		return chat.NewMessage(chat.Admin(), chat.User(userID), e.Text), nil
	}

	if e.Sender != "" && e.Sender != identity.UserID() {
		return chat.Message{}, ErrSenderMismatch
	}
	return chat.NewMessage(identity, userFrameRecipient(e.Recipient), e.Text), nil
}

func userFrameRecipient(s string) chat.Identity {
	if s == "" || strings.EqualFold(s, chat.AdminName) {
		return chat.Admin()
	}
	return chat.User(s)
}

func bindFailureReason(err error) string {
	if errors.Is(err, ErrSenderMismatch) {
		return "sender_mismatch"
	}
	return "invalid_user_id"
}

func (c *Client) discard(reason string, err error) {
	metrics.FramesDiscarded.WithLabelValues(reason).Inc()
	c.logger.Debug().Err(err).Str("reason", reason).Msg("discarding frame")
}

func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		c.hub.detach(c)
		c.Close()
	}()

	c.setupReadConnection()

	if c.State() == StateIdentified {
		c.hub.activate(c)
	}

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleOutbound(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleOutbound writes one queued payload and returns false if the connection should be closed
func (c *Client) handleOutbound(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error writing close message")
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}
