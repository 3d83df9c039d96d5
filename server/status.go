package server

import (
	"time"

	"github.com/teranos/yume/metrics"
)

// runStatusLoop broadcasts system:status on a fixed cadence while at
// least one session is connected. Gauges update every tick regardless;
// Prometheus scrapes do not depend on an open socket.
func (s *Server) runStatusLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.updateGauges()
			if s.hub.count() == 0 {
				continue
			}
			s.broadcast(s.composeSystemStatus())
		}
	}
}

func (s *Server) updateGauges() {
	metrics.RefEntries.Set(float64(s.refs.Len()))
	metrics.VRAMUsed.Set(float64(s.pool.Registry().UsedBytes()))
}

func (s *Server) composeSystemStatus() systemStatusFrame {
	jobs := s.pool.QueueSnapshot()
	return systemStatusFrame{
		Type:    "system:status",
		Mode:    s.pool.CurrentMode(),
		VRAM:    s.pool.Registry().Stats(),
		Storage: s.outputs.Stats(),
		QueueState: queueStateBody{
			Pending: len(jobs),
			Running: s.pool.RunningJob(),
			Jobs:    jobs,
		},
		WSClients: s.hub.count(),
		Dream:     s.dream.Status(),
	}
}

// broadcastSystemStatus pushes a snapshot outside the 5s cadence: after
// a mode switch resolves and on VRAM band crossings.
func (s *Server) broadcastSystemStatus() {
	if s.hub.count() == 0 {
		return
	}
	s.broadcast(s.composeSystemStatus())
}

// vramBandFor buckets usage so that crossings, not every fluctuation,
// trigger an off-cadence push.
func vramBandFor(usagePercent float64) int32 {
	switch {
	case usagePercent >= 90:
		return 2
	case usagePercent >= 75:
		return 1
	default:
		return 0
	}
}

func (s *Server) checkVRAMBand() {
	band := vramBandFor(s.pool.Registry().Stats().UsagePercent)
	if s.vramBand.Swap(band) != band {
		s.broadcastSystemStatus()
	}
}
