package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/modes"
)

// handleWorkflowsList returns catalog metadata without graph bodies.
// Graphs run to hundreds of KB; clients fetch them per-workflow.
func (s *Server) handleWorkflowsList(w http.ResponseWriter, r *http.Request) {
	catalog := s.workflows.Snapshot()
	list := make(map[string]modes.Workflow, len(catalog.Workflows))
	for name, wf := range catalog.Workflows {
		wf.Graph = nil
		list[name] = wf
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default_workflow": catalog.DefaultWorkflow,
		"workflows":        list,
	})
}

// handleWorkflowGet returns one workflow with its graph resolved, even
// when the catalog entry only carries a filepath.
func (s *Server) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.workflows.Has(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", name))
		return
	}
	wf, err := s.workflows.Get(name)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if wf.Graph == nil {
		graph, err := s.workflows.ResolveGraph(name)
		if err != nil {
			writeKindError(w, err)
			return
		}
		wf.Graph = graph
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleWorkflowsReload re-reads workflows.yml from disk.
func (s *Server) handleWorkflowsReload(w http.ResponseWriter, r *http.Request) {
	if err := s.workflows.Reload(); err != nil {
		writeKindError(w, err)
		return
	}
	names := s.workflows.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "reloaded",
		"workflows_count":  len(names),
		"workflows":        names,
		"default_workflow": s.workflows.Default(),
	})
}

// handleWorkflowsReplace swaps the whole catalog. The previous file
// rotates into .back1/2/3 before the write.
func (s *Server) handleWorkflowsReplace(w http.ResponseWriter, r *http.Request) {
	var catalog modes.WorkflowCatalog
	if readJSON(w, r, &catalog) != nil {
		return
	}
	if len(catalog.Workflows) == 0 {
		writeError(w, http.StatusBadRequest, "workflows must not be empty")
		return
	}
	if _, ok := catalog.Workflows[catalog.DefaultWorkflow]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("default_workflow %q not found in workflows", catalog.DefaultWorkflow))
		return
	}
	if err := s.workflows.Save(catalog); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "saved",
		"workflows": s.workflows.List(),
	})
}

// handleWorkflowUpsert creates or replaces one workflow. created_at
// survives updates; updated_at always moves.
func (s *Server) handleWorkflowUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var wf modes.Workflow
	if readJSON(w, r, &wf) != nil {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if existing, err := s.workflows.Get(name); err == nil {
		wf.CreatedAt = existing.CreatedAt
	} else {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	if err := s.workflows.Upsert(name, wf); err != nil {
		writeKindError(w, err)
		return
	}
	logger.ModeInfow("Workflow saved", "workflow", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "saved",
		"workflows": s.workflows.List(),
	})
}

// handleWorkflowDelete removes a workflow. Like the default mode, the
// default workflow stays.
func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.workflows.Has(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", name))
		return
	}
	if name == s.workflows.Default() {
		writeError(w, http.StatusBadRequest, "cannot delete the default workflow")
		return
	}
	if err := s.workflows.Delete(name); err != nil {
		writeKindError(w, err)
		return
	}
	logger.ModeInfow("Workflow deleted", "workflow", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "workflow": name})
}
