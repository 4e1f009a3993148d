// Package server manages the session lifecycle of every WebSocket client via
// the Hub type: pump supervision, identification, registry bookkeeping and
// connection cleanup.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/supportdesk/internal/registry"
	"github.com/Tyrowin/supportdesk/internal/router"
	"github.com/Tyrowin/supportdesk/internal/transcript"
)

// Hub supervises every live WebSocket client, whatever its state, and moves
// identified clients in and out of the connection registry.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	registry    *registry.Registry
	transcripts *transcript.Store
	router      *router.Router
	logger      zerolog.Logger
	base        zerolog.Logger
}

// NewHub creates a Hub wired to the shared registry, transcript store and
// router. Run must be started before clients are attached.
func NewHub(reg *registry.Registry, transcripts *transcript.Store, rt *router.Router, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		registry:    reg,
		transcripts: transcripts,
		router:      rt,
		logger:      logger.With().Str("component", "hub").Logger(),
		base:        logger,
	}
}

// Run starts the hub's main event loop, handling client attachment and
// detachment. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			client.logger.Debug().Int("clients", clientCount).Msg("client attached")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			clientCount := len(h.clients)
			h.mutex.Unlock()

			if ok {
				// Close the channel after releasing the lock
				client.closeSend()
				client.logger.Debug().Int("clients", clientCount).Msg("client detached")
			}
		}
	}
}

// Attach hands a freshly upgraded client to the hub, which starts its pumps.
// It reports false when the hub is shutting down; the connection is closed.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		client.Close()
		client.closeSend()
		return false
	}
}

func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		client.closeSend()
	}
}

// ClientCount returns the number of supervised connections in any state.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// activate registers an identified client and makes it routable. Users get
// their transcript created if needed and replayed as a history frame.
func (h *Hub) activate(c *Client) {
	if !c.transition(StateIdentified, StateActive) {
		return
	}
	identity := c.Identity()

	if identity.IsAdmin() {
		h.registry.RegisterAdmin(c)
		c.logger.Info().Str("role", "admin").Msg("admin connected")
		return
	}

	userID := identity.UserID()
	logger := c.logger.With().Str("user_id", userID).Logger()
	if previous := h.registry.RegisterUser(userID, c); previous != nil {
		logger.Info().Str("superseded_conn_id", previous.ID()).Msg("user re-registered; previous connection no longer routable")
	}
	h.transcripts.Ensure(context.Background(), userID)
	if err := c.sendHistory(h.transcripts.All(context.Background(), userID)); err != nil {
		logger.Warn().Err(err).Msg("failed to queue history")
	}
	logger.Info().Msg("user connected")
}

// release removes a client from the registry. It runs once per client; the
// registry's guarded unregister keeps a newer connection for the same user
// intact.
func (h *Hub) release(c *Client) {
	c.releaseOnce.Do(func() {
		previous := c.swapState(StateClosed)
		if previous != StateIdentified && previous != StateActive {
			return
		}

		identity := c.Identity()
		if identity.IsAdmin() {
			if h.registry.UnregisterAdmin(c) {
				c.logger.Info().Msg("admin disconnected")
			}
			return
		}
		if h.registry.UnregisterUser(identity.UserID(), c) {
			c.logger.Info().Msg("user disconnected")
		}
	})
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		client.Close()
		client.closeSend()
	}

	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
