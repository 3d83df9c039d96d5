package server

import (
	"encoding/base64"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// handleStoragePut writes a small client-side blob into the
// content-addressed output store. Bulk uploads belong on POST /upload;
// base64 over the socket is tolerated, not encouraged.
func (s *Server) handleStoragePut(c *Client, env *Envelope) {
	if env.Data == "" {
		c.sendError(env.ID, "", errors.NewKind(errors.KindBadRequest, "data is required"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		c.sendError(env.ID, "", errors.WithKind(errors.Wrap(err, "invalid base64 data"), errors.KindBadRequest))
		return
	}
	mime := env.ContentType
	if mime == "" {
		mime = "application/octet-stream"
	}

	blob := s.outputs.Put(data, mime)
	logger.StoreDebugw("client blob stored",
		logger.FieldKey, blob.Key,
		logger.FieldSessionID, shortID(c.id),
		logger.FieldSize, len(data))
	c.send(storagePutAck{Type: "storage:put:ack", ID: env.ID, Key: blob.Key, URL: blob.URL()})
}

func (s *Server) handlePing(c *Client, env *Envelope) {
	c.send(pongFrame{Type: "pong"})
}
