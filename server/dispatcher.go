package server

import (
	"github.com/teranos/yume/dream"
	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// runDispatcher is the single consumer of the pool and dream buses. It
// fans events out to session subscriptions and hub broadcasts, and
// feeds dream children back to the controller. Exits when both buses
// close during shutdown.
func (s *Server) runDispatcher() {
	defer s.wg.Done()

	pool := s.pool.Events()
	dreams := s.dream.Events()
	for pool != nil || dreams != nil {
		select {
		case ev, ok := <-pool:
			if !ok {
				pool = nil
				continue
			}
			s.handlePoolEvent(ev)
		case ev, ok := <-dreams:
			if !ok {
				dreams = nil
				continue
			}
			s.handleDreamEvent(ev)
		}
	}
	logger.WSDebugw("dispatcher drained")
}

func terminalEvent(k engine.EventKind) bool {
	return k == engine.EventComplete || k == engine.EventError || k == engine.EventCanceled
}

func (s *Server) handlePoolEvent(ev engine.Event) {
	if ev.Kind == engine.EventQueue {
		s.broadcastQueueState()
		return
	}

	// Dream children route back to the controller, never to a session
	// subscription; candidates reach clients through the dream bus.
	if ev.Source == engine.SourceDream {
		s.dream.HandleChildEvent(ev)
		if terminalEvent(ev.Kind) {
			s.broadcastQueueState()
		}
		return
	}

	if frame, ok := frameForEvent(ev); ok {
		if c := s.hub.get(ev.SessionID); c != nil {
			c.deliver(ev.JobID, frame)
		}
	}

	if terminalEvent(ev.Kind) {
		// The running slot changed; EventQueue only covers queue edits.
		s.broadcastQueueState()
		if ev.Kind == engine.EventComplete && ev.Type == engine.TypeModeSwitch {
			s.broadcastSystemStatus()
			return
		}
		s.checkVRAMBand()
	} else if ev.Kind == engine.EventStarted {
		s.checkVRAMBand()
	}
}

// frameForEvent maps a pool event onto its wire frame.
func frameForEvent(ev engine.Event) (outboundFrame, bool) {
	switch ev.Kind {
	case engine.EventStarted:
		return outboundFrame{
			payload: jobProgress{
				Type:   "job:progress",
				JobID:  ev.JobID,
				Status: string(ev.State),
			},
			droppable: true,
		}, true
	case engine.EventProgress:
		return outboundFrame{
			payload: jobProgress{
				Type:     "job:progress",
				JobID:    ev.JobID,
				Status:   string(ev.State),
				Progress: progressBody{Fraction: ev.Fraction},
			},
			droppable: true,
		}, true
	case engine.EventComplete:
		res := ev.Result
		if res == nil {
			res = &engine.Result{JobID: ev.JobID}
		}
		return outboundFrame{
			payload: jobComplete{
				Type:    "job:complete",
				JobID:   ev.JobID,
				Outputs: res.Outputs,
				Meta:    completeMeta{Seed: res.Seed, Backend: res.Backend, SR: res.SR},
			},
			terminal: true,
		}, true
	case engine.EventError:
		msg := "job failed"
		kind := errors.KindWorkerFailure
		if ev.Err != nil {
			msg = errors.TruncateMessage(ev.Err, wireErrorLimit)
			kind = errors.KindOf(ev.Err)
		}
		return outboundFrame{
			payload: jobError{
				Type:  "job:error",
				JobID: ev.JobID,
				Error: msg,
				Kind:  string(kind),
			},
			terminal: true,
		}, true
	case engine.EventCanceled:
		return outboundFrame{
			payload:  jobCanceled{Type: "job:cancel", JobID: ev.JobID},
			terminal: true,
		}, true
	}
	return outboundFrame{}, false
}

func (s *Server) handleDreamEvent(ev dream.Event) {
	switch ev.Kind {
	case dream.EventStatus:
		if ev.Status != nil {
			s.broadcast(dreamStatusPush{Type: "dream:status", Status: *ev.Status})
		}
	case dream.EventCandidate:
		if ev.Candidate != nil {
			s.broadcast(dreamCandidateFrame{Type: "dream:candidate", Candidate: *ev.Candidate})
		}
	case dream.EventStopped:
		var stats dream.Stats
		if ev.Stats != nil {
			stats = *ev.Stats
		}
		// Reply to every session with a pending stop request, and to
		// the owner even without one (duration self-stop, close-stop).
		s.hub.each(func(c *Client) {
			corr := c.takePendingStop()
			if corr == "" && c.id != ev.SessionID {
				return
			}
			c.send(dreamStopped{Type: "dream:stopped", ID: corr, Status: "stopped", Stats: stats})
		})
	}
}

func (s *Server) composeQueueState() queueStateFrame {
	jobs := s.pool.QueueSnapshot()
	return queueStateFrame{
		Type: "queue:state",
		queueStateBody: queueStateBody{
			Pending: len(jobs),
			Running: s.pool.RunningJob(),
			Jobs:    jobs,
		},
	}
}

// broadcastQueueState pushes the queue shape after a visible mutation.
func (s *Server) broadcastQueueState() {
	if s.hub.count() == 0 {
		return
	}
	s.broadcast(s.composeQueueState())
}
