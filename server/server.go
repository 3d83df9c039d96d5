// Package server is the session layer: it owns the WebSocket hub, the
// envelope router, the HTTP bridge, and the single dispatcher that fans
// pool and dream events out to connected clients.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/dream"
	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
	"github.com/teranos/yume/modes"
	"github.com/teranos/yume/store"
)

// Server routes WebSocket sessions and HTTP requests onto the worker
// pool. It does not own the pool, the stores, or the dream controller;
// Stop drains them in dependency order on behalf of the caller.
type Server struct {
	cfg       config.Config
	pool      *engine.Pool
	modes     *modes.Manager
	workflows *modes.WorkflowManager
	refs      *store.RefStore
	outputs   *store.OutputStore
	dream     *dream.Controller

	router    *Router
	hub       *hub
	upgrader  websocket.Upgrader
	telemetry *telemetryForwarder

	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	state          atomic.Int32
	broadcastDrops atomic.Int64
	vramBand       atomic.Int32
}

// New wires the session layer around an already-started pool.
func New(cfg config.Config, pool *engine.Pool, manager *modes.Manager, workflows *modes.WorkflowManager, refs *store.RefStore, outputs *store.OutputStore, ctrl *dream.Controller) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		pool:      pool,
		modes:     manager,
		workflows: workflows,
		refs:      refs,
		outputs:   outputs,
		dream:     ctrl,
		router:    NewRouter(),
		hub:       newHub(),
		telemetry: newTelemetryForwarder(cfg.Telemetry),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.state.Store(int32(ServerStateRunning))
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.router.RegisterHandler("job:submit", s.handleJobSubmit)
	s.router.RegisterHandler("job:cancel", s.handleJobCancel)
	s.router.RegisterHandler("job:priority", s.handleJobPriority)
	s.router.RegisterHandler("dream:start", s.handleDreamStart)
	s.router.RegisterHandler("dream:stop", s.handleDreamStop)
	s.router.RegisterHandler("dream:status", s.handleDreamStatus)
	s.router.RegisterHandler("dream:top", s.handleDreamTop)
	s.router.RegisterHandler("dream:guide", s.handleDreamGuide)
	s.router.RegisterHandler("storage:put", s.handleStoragePut)
	s.router.RegisterHandler("telemetry:otlp", s.handleTelemetry)
	s.router.RegisterHandler("ping", s.handlePing)
}

// handleWebSocket upgrades the connection and starts the session pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server draining")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WSDebugw("upgrade failed", logger.FieldError, err)
		return
	}
	c := newClient(s, conn)
	if !s.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached"))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// register adds the session and plays it the current world state.
func (s *Server) register(c *Client) bool {
	if s.getState() != ServerStateRunning {
		return false
	}
	n, ok := s.hub.add(c, MaxClients)
	if !ok {
		logger.WSInfow("session rejected, hub full",
			logger.FieldSessionID, shortID(c.id),
			"max_clients", MaxClients)
		return false
	}
	metrics.WSClients.Set(float64(n))
	logger.WSInfow("session connected",
		logger.FieldSessionID, shortID(c.id),
		logger.FieldCount, n)
	c.send(s.composeSystemStatus())
	c.send(s.composeQueueState())
	return true
}

// unregister removes the session. Its jobs keep running; a dream it
// owns is stopped.
func (s *Server) unregister(c *Client) {
	n, removed := s.hub.remove(c.id)
	if !removed {
		return
	}
	c.close()
	metrics.WSClients.Set(float64(n))
	s.dream.OnSessionClose(c.id)
	logger.WSInfow("session disconnected",
		logger.FieldSessionID, shortID(c.id),
		logger.FieldCount, n)
}

// broadcast queues a droppable frame to every connected session.
func (s *Server) broadcast(payload interface{}) {
	s.hub.each(func(c *Client) {
		c.sendDroppable(payload)
	})
}

// hub is the live session registry.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newHub() *hub {
	return &hub{clients: make(map[string]*Client)}
}

// add registers c unless the hub is at capacity. Returns the new count.
func (h *hub) add(c *Client, max int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= max {
		return len(h.clients), false
	}
	h.clients[c.id] = c
	return len(h.clients), true
}

func (h *hub) remove(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return len(h.clients), false
	}
	delete(h.clients, id)
	return len(h.clients), true
}

func (h *hub) get(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// each calls fn for every session, outside the hub lock so fn may take
// per-client locks.
func (h *hub) each(fn func(*Client)) {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// drain empties the registry and returns the removed sessions.
func (h *hub) drain() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		out = append(out, c)
		delete(h.clients, id)
	}
	return out
}
