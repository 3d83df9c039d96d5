package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
)

// WebSocket timeout constants following Gorilla best practices
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// sendQueueMax bounds frames waiting on one session's write pump.
	sendQueueMax = 256
)

// jobSub gates one job's event stream behind its ack. Events that race
// the ack are buffered and flushed in order right after it, so the
// client never sees progress before job:ack.
type jobSub struct {
	acked  bool
	buffer []outboundFrame
}

// Client is one WebSocket session. The read pump decodes envelopes and
// dispatches them; the write pump drains the send queue.
type Client struct {
	server *Server
	conn   *websocket.Conn
	id     string

	queue *sendQueue

	mu          sync.Mutex
	subs        map[string]*jobSub // jobID → gated subscription
	corrs       map[string]string  // corrID → jobID, reuse guard
	pendingStop string             // corrID awaiting dream:stopped

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		server: s,
		conn:   conn,
		id:     uuid.NewString(),
		queue:  newSendQueue(sendQueueMax),
		subs:   make(map[string]*jobSub),
		corrs:  make(map[string]string),
		done:   make(chan struct{}),
	}
}

// close tears the session down once: the write pump stops, the queue
// rejects further frames, and the closed conn unblocks the read pump.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.close()
		c.conn.Close()
	})
}

// readPump decodes inbound envelopes and routes them through the
// dispatch table. Exits on any read error, unregistering the session.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("", "", errors.NewKind(errors.KindBadRequest, "malformed envelope"))
			continue
		}
		c.server.router.dispatch(c, &env)
	}
}

// handleReadError keeps expected close codes quiet.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived) {
		logger.WSDebugw("session read error",
			logger.FieldSessionID, shortID(c.id),
			logger.FieldError, err)
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. A write that misses its deadline closes
// the conn, which removes the session as a slow consumer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-c.queue.ready:
			for {
				frame, ok := c.queue.pop()
				if !ok {
					break
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(frame.payload); err != nil {
					logger.WSDebugw("session write failed",
						logger.FieldSessionID, shortID(c.id),
						logger.FieldError, err)
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send queues a frame that must not be dropped: acks, replies,
// terminals.
func (c *Client) send(payload interface{}) {
	c.enqueue(outboundFrame{payload: payload})
}

// sendDroppable queues a best-effort frame: progress and pushes.
func (c *Client) sendDroppable(payload interface{}) {
	c.enqueue(outboundFrame{payload: payload, droppable: true})
}

func (c *Client) enqueue(f outboundFrame) {
	if n := c.queue.push(f); n > 0 {
		c.server.broadcastDrops.Add(int64(n))
		metrics.BroadcastDrops.Add(float64(n))
	}
}

// sendError emits job:error carrying err's stable kind. corr echoes the
// request id when known; jobID ties stream errors to their job.
func (c *Client) sendError(corr, jobID string, err error) {
	c.send(jobError{
		Type:  "job:error",
		ID:    corr,
		JobID: jobID,
		Error: errors.TruncateMessage(err, wireErrorLimit),
		Kind:  string(errors.KindOf(err)),
	})
}

// openSub registers a gated subscription before the job is submitted,
// so the dispatcher buffers any event that races the ack.
func (c *Client) openSub(jobID string) {
	c.mu.Lock()
	c.subs[jobID] = &jobSub{}
	c.mu.Unlock()
}

// dropSub abandons a subscription after a failed submit.
func (c *Client) dropSub(jobID string) {
	c.mu.Lock()
	delete(c.subs, jobID)
	c.mu.Unlock()
}

// ackJob queues the ack and opens the gate. Buffered events flush after
// the ack under the same lock, so nothing can interleave ahead of them.
func (c *Client) ackJob(corr, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrs[corr] = jobID
	sub, ok := c.subs[jobID]
	if !ok {
		return
	}
	c.enqueue(outboundFrame{payload: jobAck{Type: "job:ack", ID: corr, JobID: jobID}})
	sub.acked = true
	for _, f := range sub.buffer {
		if f.terminal {
			delete(c.subs, jobID)
		}
		c.enqueue(f)
	}
	sub.buffer = nil
}

// deliver routes one pool event frame through the job's gate. Unknown
// jobIDs drop silently: the session never subscribed or already saw the
// terminal.
func (c *Client) deliver(jobID string, f outboundFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[jobID]
	if !ok {
		return
	}
	if !sub.acked {
		sub.buffer = append(sub.buffer, f)
		return
	}
	if f.terminal {
		delete(c.subs, jobID)
	}
	c.enqueue(f)
}

// seenCorr reports whether corr was already used for a submit on this
// session.
func (c *Client) seenCorr(corr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.corrs[corr]
	return ok
}

// setPendingStop records the corrID a dream:stopped reply should echo.
func (c *Client) setPendingStop(corr string) {
	c.mu.Lock()
	c.pendingStop = corr
	c.mu.Unlock()
}

func (c *Client) takePendingStop() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	corr := c.pendingStop
	c.pendingStop = ""
	return corr
}
