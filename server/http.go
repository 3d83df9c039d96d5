package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/logger"
	"github.com/teranos/yume/metrics"
	"github.com/teranos/yume/store"
	"github.com/teranos/yume/version"
)

// maxUploadBytes bounds /upload request bodies.
const maxUploadBytes = 64 << 20

// blockingReply is the response body of the legacy REST adapters. It
// mirrors the terminal job:complete frame minus the envelope type.
type blockingReply struct {
	JobID   string             `json:"jobId"`
	Outputs []engine.OutputRef `json:"outputs"`
	Meta    completeMeta       `json:"meta"`
}

// handleUpload stores a temporary init image and replies with its
// fileRef. Multipart posts read the "file" field; any other body is
// taken raw.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var data []byte
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
			return
		}
		contentType = header.Header.Get("Content-Type")
	} else {
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
			return
		}
	}

	ref, err := s.refs.Put(data, contentType)
	if err != nil {
		writeKindError(w, err)
		return
	}
	metrics.UploadsStored.Inc()
	logger.StoreDebugw("upload stored",
		logger.FieldRef, ref,
		logger.FieldSize, len(data),
	)
	writeJSON(w, http.StatusOK, map[string]string{"fileRef": ref})
}

// handleStorageGet serves a stored output blob. Keys are content
// addresses, so hits are cacheable forever.
func (s *Server) handleStorageGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	blob, ok := s.outputs.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown key")
		return
	}
	w.Header().Set("Content-Type", blob.Mime)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(blob.Data)
}

type healthzBody struct {
	State     string               `json:"state"`
	Version   string               `json:"version"`
	Mode      string               `json:"mode"`
	VRAM      engine.RegistryStats `json:"vram"`
	Storage   store.Stats          `json:"storage"`
	Queue     queueStateBody       `json:"queue"`
	WSClients int                  `json:"wsClients"`
}

// handleHealthz reports liveness plus a condensed status snapshot.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzBody{
		State:     stateString(s.getState()),
		Version:   version.Get().Version,
		Mode:      s.pool.CurrentMode(),
		VRAM:      s.pool.Registry().Stats(),
		Storage:   s.outputs.Stats(),
		Queue:     s.composeQueueState().queueStateBody,
		WSClients: s.hub.count(),
	})
}

// handleGenerate is the blocking REST adapter: submit, wait, reply.
// WebSocket submits get streaming progress; this path holds the
// request open until the job resolves or the client hangs up.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var wire generateWire
	if readJSON(w, r, &wire) != nil {
		return
	}
	job, ref, err := s.generateJob("", engine.SourceHTTP, wire)
	if err != nil {
		writeKindError(w, err)
		return
	}
	s.runBlocking(w, r, job, ref)
}

// handleSuperres is the blocking adapter for upscales.
func (s *Server) handleSuperres(w http.ResponseWriter, r *http.Request) {
	var wire srWire
	if readJSON(w, r, &wire) != nil {
		return
	}
	job, ref, err := s.srJob("", engine.SourceHTTP, wire)
	if err != nil {
		writeKindError(w, err)
		return
	}
	s.runBlocking(w, r, job, ref)
}

// runBlocking resolves ref, submits job, and waits for the terminal
// result on the request context. A client disconnect cancels the wait
// but not the job.
func (s *Server) runBlocking(w http.ResponseWriter, r *http.Request, job *engine.Job, ref string) {
	if ref != "" {
		data, _, err := s.refs.Take(ref)
		if err != nil {
			writeKindError(w, err)
			return
		}
		job.InitImage = data
	}

	fut, err := s.pool.Submit(job)
	if err != nil {
		writeKindError(w, err)
		return
	}
	res, err := fut.Wait(r.Context())
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blockingReply{
		JobID:   res.JobID,
		Outputs: res.Outputs,
		Meta: completeMeta{
			Seed:    res.Seed,
			Backend: res.Backend,
			SR:      res.SR,
		},
	})
}
