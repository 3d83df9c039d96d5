package server

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/internal/httpclient"
	"github.com/teranos/yume/logger"
)

// telemetryForwarder relays OTLP payloads from browser sessions to the
// configured collector. The limiter sheds floods; a browser tab is not
// a trusted telemetry source.
type telemetryForwarder struct {
	endpoint string
	client   *httpclient.Client
	limiter  *rate.Limiter
}

func newTelemetryForwarder(cfg config.TelemetryConfig) *telemetryForwarder {
	return &telemetryForwarder{
		endpoint: cfg.Endpoint,
		// Collectors commonly sit on the LAN, so private targets are
		// allowed; scheme, userinfo, and redirect checks still apply.
		client:  httpclient.New(cfg.Timeout(), httpclient.Options{AllowPrivate: true}),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// forward POSTs payload to the collector endpoint and returns the
// collector's status code. A zero status means the collector was never
// reached.
func (f *telemetryForwarder) forward(ctx context.Context, payload []byte, contentType string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "building telemetry request")
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "telemetry forward failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, errors.Newf("collector returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// handleTelemetry acks noop when no endpoint is configured, otherwise
// forwards off the read pump and acks from the goroutine.
func (s *Server) handleTelemetry(c *Client, env *Envelope) {
	if len(env.Payload) == 0 {
		c.sendError(env.ID, "", errors.NewKind(errors.KindBadRequest, "payload is required"))
		return
	}
	if s.telemetry.endpoint == "" {
		c.send(telemetryAck{Type: "telemetry:ack", ID: env.ID, Status: "noop"})
		return
	}
	if !s.telemetry.limiter.Allow() {
		c.send(telemetryAck{Type: "telemetry:ack", ID: env.ID, Status: "error", Error: "rate limited"})
		return
	}

	corr := env.ID
	contentType := env.ContentType
	payload := append([]byte(nil), env.Payload...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.telemetry.forward(s.ctx, payload, contentType); err != nil {
			logger.WSDebugw("telemetry forward failed", logger.FieldError, err)
			c.send(telemetryAck{
				Type:   "telemetry:ack",
				ID:     corr,
				Status: "error",
				Error:  errors.TruncateMessage(err, wireErrorLimit),
			})
			return
		}
		c.send(telemetryAck{Type: "telemetry:ack", ID: corr, Status: "forwarded"})
	}()
}

// maxTelemetryBytes bounds one OTLP payload on the REST route.
const maxTelemetryBytes = 4 << 20

// handleTelemetryHTTP is the REST flavor of the OTLP proxy. Replies 204
// when no collector is configured, otherwise mirrors the collector's
// status: 502 when the collector rejects, 503 when it is unreachable.
func (s *Server) handleTelemetryHTTP(w http.ResponseWriter, r *http.Request) {
	if s.telemetry.endpoint == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.telemetry.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "telemetry rate limited")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	status, err := s.telemetry.forward(r.Context(), body, r.Header.Get("Content-Type"))
	if err != nil {
		logger.WSDebugw("telemetry forward failed", logger.FieldError, err)
		if status == 0 {
			writeError(w, http.StatusServiceUnavailable, "collector unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, "collector error")
		return
	}
	w.WriteHeader(status)
}
