package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
	"github.com/teranos/yume/version"
)

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
}

func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start binds the listen address and serves until Stop or a listener
// error. It blocks; callers run it in a goroutine.
func (s *Server) Start() error {
	host := s.cfg.Server.Host
	if host == "" {
		host = config.DefaultHost
	}
	port := config.DefaultServerPort
	if s.cfg.Server.Port != nil && *s.cfg.Server.Port > 0 {
		port = *s.cfg.Server.Port
	}

	actual, err := findAvailablePort(host, port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actual != port {
		logger.Warnw("Port in use, using alternative",
			"requested", port,
			"actual", actual,
		)
	}

	s.startBackground()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(actual)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.PulseOpenInfow("Server ready",
		"addr", s.httpServer.Addr,
		"version", version.Get().Short(),
		"mode", s.pool.CurrentMode(),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// startBackground launches the dispatcher and status loop. Split from
// Start so tests can run the session layer on an httptest listener.
func (s *Server) startBackground() {
	s.wg.Add(2)
	go s.runDispatcher()
	go s.runStatusLoop()
}

// Stop drains in dependency order: stop intake, stop the dream driver,
// drain the pool (which closes the event bus and lets the dispatcher
// exit), then tear down sessions.
func (s *Server) Stop() {
	logger.PulseCloseInfow("Server stopping",
		logger.FieldQueueDepth, s.pool.QueueDepth(),
		"clients", s.hub.count(),
	)
	s.setState(ServerStateDraining)

	shCtx, shCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shCtx); err != nil {
			logger.Warnw("HTTP shutdown error", logger.FieldError, err)
		}
	}

	s.dream.Close()
	s.pool.Shutdown(shCtx)

	for _, c := range s.hub.drain() {
		c.close()
	}
	metrics.WSClients.Set(0)

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		logger.Warnw("Shutdown timed out waiting for background loops")
	}

	s.setState(ServerStateStopped)
	logger.PulseCloseInfow("Server stopped",
		"dropped_frames", s.broadcastDrops.Load(),
	)
}
