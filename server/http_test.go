package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

// TestUploadRawBody posts bytes straight at /upload and gets a fileRef
// usable by the blocking adapters.
func TestUploadRawBody(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.ts.URL+"/upload", "image/png", strings.NewReader("raw init image"))
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	ref, _ := body["fileRef"].(string)
	if ref == "" {
		t.Fatalf("no fileRef in %v", body)
	}

	data, ct, err := h.refs.Take(ref)
	if err != nil {
		t.Fatalf("Take(%s): %v", ref, err)
	}
	if string(data) != "raw init image" || ct != "image/png" {
		t.Errorf("stored %q/%q, want the posted body", data, ct)
	}
}

// TestUploadMultipart posts a form file, the way browsers do.
func TestUploadMultipart(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "init.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("form init image"))
	mw.Close()

	resp, err := http.Post(h.ts.URL+"/v1/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	ref, _ := body["fileRef"].(string)
	if ref == "" {
		t.Fatalf("no fileRef in %v", body)
	}
	data, _, err := h.refs.Take(ref)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if string(data) != "form init image" {
		t.Errorf("stored %q, want the form part", data)
	}
}

func TestUploadEmptyBodyRejected(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.ts.URL+"/upload", "image/png", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["kind"] != "BadRequest" {
		t.Errorf("kind = %v, want BadRequest", body["kind"])
	}
}

func TestStorageGetUnknownKey(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/storage/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStorageGetServesImmutable(t *testing.T) {
	h := newHarness(t)
	blob := h.outputs.Put([]byte("archived print"), "image/png")

	resp, err := http.Get(h.ts.URL + blob.URL())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("cache control = %q, want immutable", cc)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "archived print" {
		t.Errorf("body = %q", data)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["state"] != "running" {
		t.Errorf("state = %v, want running", body["state"])
	}
	if body["mode"] != "ukiyo-e" {
		t.Errorf("mode = %v, want ukiyo-e", body["mode"])
	}
	if _, ok := body["version"].(string); !ok {
		t.Error("healthz carries no version")
	}
}

// TestGenerateBlocking holds the door open until the print is done:
// the legacy adapter replies with the same shape as job:complete.
func TestGenerateBlocking(t *testing.T) {
	h := newHarness(t)

	resp := postJSON(t, h.ts.URL+"/generate", map[string]interface{}{
		"prompt": "the great wave, blocking",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if id, _ := body["jobId"].(string); id == "" {
		t.Error("no jobId in reply")
	}
	outputs, _ := body["outputs"].([]interface{})
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want one", body["outputs"])
	}
	meta, _ := body["meta"].(map[string]interface{})
	if meta["seed"] != float64(gallerySeed) || meta["backend"] != "sim" {
		t.Errorf("meta = %v", meta)
	}

	url, _ := outputs[0].(map[string]interface{})["url"].(string)
	out, err := http.Get(h.ts.URL + url)
	if err != nil {
		t.Fatalf("fetch output: %v", err)
	}
	out.Body.Close()
	if out.StatusCode != http.StatusOK {
		t.Errorf("output fetch status = %d", out.StatusCode)
	}
}

func TestGenerateValidation(t *testing.T) {
	h := newHarness(t)

	resp := postJSON(t, h.ts.URL+"/generate", map[string]interface{}{
		"prompt": "bad geometry",
		"size":   "banana",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["kind"] != "BadRequest" {
		t.Errorf("kind = %v, want BadRequest", body["kind"])
	}

	resp = postJSON(t, h.ts.URL+"/generate", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty prompt: status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

// TestSuperresViaUpload chains the two HTTP calls a curl user makes:
// upload the source, then upscale it by ref.
func TestSuperresViaUpload(t *testing.T) {
	h := newHarness(t)

	up, err := http.Post(h.ts.URL+"/upload", "image/png", strings.NewReader("low res"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ref, _ := decodeBody(t, up)["fileRef"].(string)

	resp := postJSON(t, h.ts.URL+"/superres", map[string]interface{}{
		"init_image_ref": ref,
		"magnitude":      2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	meta, _ := body["meta"].(map[string]interface{})
	if meta["sr"] != true {
		t.Errorf("meta.sr = %v, want true", meta["sr"])
	}
}

func TestSuperresRequiresRef(t *testing.T) {
	h := newHarness(t)

	resp := postJSON(t, h.ts.URL+"/superres", map[string]interface{}{"magnitude": 2})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSuperresUnknownRefIs404(t *testing.T) {
	h := newHarness(t)

	resp := postJSON(t, h.ts.URL+"/superres", map[string]interface{}{
		"init_image_ref": "deadbeef",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["kind"] != "RefNotFound" {
		t.Errorf("kind = %v, want RefNotFound", body["kind"])
	}
}

func TestTelemetryHTTPNoCollector(t *testing.T) {
	h := newHarness(t)

	resp := postJSON(t, h.ts.URL+"/api/telemetry", map[string]interface{}{
		"resourceSpans": []interface{}{},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTelemetryHTTPForwards(t *testing.T) {
	h := newHarness(t)

	var got []byte
	var gotType string
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		gotType = r.Header.Get("Content-Type")
	}))
	defer collector.Close()
	h.srv.telemetry.endpoint = collector.URL

	resp := postJSON(t, h.ts.URL+"/api/telemetry", map[string]interface{}{"spans": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want mirrored 200", resp.StatusCode)
	}
	resp.Body.Close()

	if !strings.Contains(string(got), `"spans":3`) {
		t.Errorf("collector saw %q, want the posted payload", got)
	}
	if gotType != "application/json" {
		t.Errorf("collector Content-Type = %q, want application/json", gotType)
	}
}

func TestTelemetryHTTPCollectorRejects(t *testing.T) {
	h := newHarness(t)

	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer collector.Close()
	h.srv.telemetry.endpoint = collector.URL

	resp := postJSON(t, h.ts.URL+"/api/telemetry", map[string]interface{}{"spans": 1})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTelemetryHTTPCollectorUnreachable(t *testing.T) {
	h := newHarness(t)
	// Nothing listens on port 1.
	h.srv.telemetry.endpoint = "http://127.0.0.1:1/v1/traces"

	resp := postJSON(t, h.ts.URL+"/api/telemetry", map[string]interface{}{"spans": 1})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	resp.Body.Close()
}
