package server

import (
	"sync"

	"github.com/teranos/yume/errors"
)

// HandlerFunc handles one inbound envelope for a session. Handlers run
// on the session's read pump; anything slow hops to a goroutine.
type HandlerFunc func(*Client, *Envelope)

// Router maps envelope types to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// RegisterHandler binds an envelope type. Later registrations win,
// which lets tests stub individual handlers.
func (r *Router) RegisterHandler(msgType string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

func (r *Router) dispatch(c *Client, env *Envelope) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		c.sendError(env.ID, "", errors.NewKindf(errors.KindUnknownType, "unknown type: %s", env.Type))
		return
	}
	h(c, env)
}
