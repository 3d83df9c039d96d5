package server

import (
	"fmt"
	"net/http"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/modes"
)

// handleModelsStatus reports the loaded mode and registry pressure.
func (s *Server) handleModelsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_mode": s.pool.CurrentMode(),
		"queue_size":   s.pool.QueueDepth(),
		"vram":         s.pool.Registry().Stats(),
	})
}

// handleModesList returns the whole catalog.
func (s *Server) handleModesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modes.Snapshot())
}

type modeSwitchRequest struct {
	Mode string `json:"mode"`
}

// handleModeSwitch queues a switch job at URGENT priority. Switching to
// the loaded mode resolves immediately, and the reply says which case
// the caller hit.
func (s *Server) handleModeSwitch(w http.ResponseWriter, r *http.Request) {
	var req modeSwitchRequest
	if readJSON(w, r, &req) != nil {
		return
	}
	if req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	if !s.modes.Has(req.Mode) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":     fmt.Sprintf("mode %q not found", req.Mode),
			"kind":      string(errors.KindModeNotFound),
			"available": s.modes.List(),
		})
		return
	}

	from := s.pool.CurrentMode()
	fut, err := s.pool.SwitchMode("", req.Mode)
	if err != nil {
		writeKindError(w, err)
		return
	}
	select {
	case <-fut.Done():
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "already_loaded",
			"mode":   req.Mode,
		})
	default:
		logger.ModeInfow("Mode switch queued",
			"from", from,
			"to", req.Mode,
		)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "queued",
			"from_mode": from,
			"to_mode":   req.Mode,
		})
	}
}

// handleModesReload re-reads modes.yml from disk.
func (s *Server) handleModesReload(w http.ResponseWriter, r *http.Request) {
	if err := s.modes.Reload(); err != nil {
		writeKindError(w, err)
		return
	}
	names := s.modes.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "reloaded",
		"modes_count":  len(names),
		"modes":        names,
		"default_mode": s.modes.Default(),
	})
}

// handleModesReplace swaps the whole catalog. The previous file rotates
// into .back1/2/3 before the write.
func (s *Server) handleModesReplace(w http.ResponseWriter, r *http.Request) {
	var catalog modes.Catalog
	if readJSON(w, r, &catalog) != nil {
		return
	}
	if len(catalog.Modes) == 0 {
		writeError(w, http.StatusBadRequest, "modes must not be empty")
		return
	}
	if _, ok := catalog.Modes[catalog.DefaultMode]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("default_mode %q not found in modes", catalog.DefaultMode))
		return
	}
	if err := s.modes.Save(catalog); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "saved",
		"modes":  s.modes.List(),
	})
}

// handleModeUpsert creates or replaces one mode.
func (s *Server) handleModeUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var mode modes.Mode
	if readJSON(w, r, &mode) != nil {
		return
	}
	if err := s.modes.Upsert(name, mode); err != nil {
		writeKindError(w, err)
		return
	}
	logger.ModeInfow("Mode saved", logger.FieldMode, name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "mode": name})
}

// handleModeDelete removes a mode. The default mode is load-bearing for
// startup and fallback, so deleting it is rejected up front.
func (s *Server) handleModeDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == s.modes.Default() {
		writeError(w, http.StatusBadRequest, "cannot delete the default mode")
		return
	}
	if err := s.modes.Delete(name); err != nil {
		writeKindError(w, err)
		return
	}
	logger.ModeInfow("Mode deleted", logger.FieldMode, name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "mode": name})
}

// handleVRAM exposes the registry's memory accounting.
func (s *Server) handleVRAM(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Registry().Stats())
}
