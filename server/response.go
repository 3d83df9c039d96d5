package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/teranos/yume/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeKindError maps err's kind onto an HTTP status and includes the
// stable kind string for programmatic clients.
func writeKindError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(kind))
	json.NewEncoder(w).Encode(map[string]string{
		"error": errors.TruncateMessage(err, wireErrorLimit),
		"kind":  string(kind),
	})
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return err
	}
	return nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
