package server

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/dream"
	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/modes"
	"github.com/teranos/yume/store"
)

// ============================================================================
// The Gallery Session Tests
// ============================================================================
//
// The studio (engine) paints; the gallery (server) is where patrons
// watch. Patrons connect over WebSocket, commission work, and receive
// the stream of strokes. The curator (HTTP surface) handles uploads,
// catalogs, and the patrons who insist on waiting at the door.
// ============================================================================

const testModesYAML = `default_mode: ukiyo-e
modes:
  ukiyo-e:
    model: great-wave.safetensors
  sumi-e:
    model: ink-wash.safetensors
`

const testWorkflowsYAML = `default_workflow: txt2img
workflows:
  txt2img:
    display_name: Text to Image
    workflow:
      "1":
        class_type: KSampler
  inpaint:
    display_name: Inpaint
    workflow:
      "1":
        class_type: VAEEncode
`

const gallerySeed uint32 = 1831

type stubRegistry struct{}

func (stubRegistry) Register(engine.ModelInfo) {}
func (stubRegistry) Unregister(string) {}
func (stubRegistry) UsedBytes() uint64 { return 0 }
func (stubRegistry) AvailableBytes() uint64 { return 1 << 40 }
func (stubRegistry) CanFit(uint64) bool { return true }
func (stubRegistry) IsLoaded(string) bool { return false }
func (stubRegistry) Stats() engine.RegistryStats { return engine.RegistryStats{Device: "stub"} }

// simWorker finishes instantly: one stroke of progress, then a print.
type simWorker struct{}

func (simWorker) Run(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	progress(0.5)
	progress(1.0)
	return &engine.RenderOutput{
		Data:    []byte("print of " + job.ID),
		Mime:    "image/png",
		Seed:    gallerySeed,
		Backend: "sim",
		SR:      job.Type == engine.TypeSR,
	}, nil
}

func (simWorker) Unload() {}

// heldWorker parks inside Run until released, so tests can pin a job in
// the running state and pile others up behind it.
type heldWorker struct {
	started chan string
	proceed chan struct{}
}

func newHeldWorker() *heldWorker {
	return &heldWorker{
		started: make(chan string, 16),
		proceed: make(chan struct{}, 16),
	}
}

func (w *heldWorker) Run(ctx context.Context, job *engine.Job, progress func(float64)) (*engine.RenderOutput, error) {
	w.started <- job.ID
	select {
	case <-w.proceed:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &engine.RenderOutput{Data: []byte("held " + job.ID), Mime: "image/png", Seed: 7, Backend: "sim"}, nil
}

func (w *heldWorker) Unload() {}

func (w *heldWorker) release() { w.proceed <- struct{}{} }

type harness struct {
	srv     *Server
	ts      *httptest.Server
	pool    *engine.Pool
	manager *modes.Manager
	flows   *modes.WorkflowManager
	refs    *store.RefStore
	outputs *store.OutputStore
	ctrl    *dream.Controller
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, func(modes.Mode) engine.Worker { return simWorker{} })
}

func newHeldHarness(t *testing.T) (*harness, *heldWorker) {
	held := newHeldWorker()
	h := newHarnessWith(t, func(modes.Mode) engine.Worker { return held })
	t.Cleanup(func() { close(held.proceed) }) // unpark anything still held
	return h, held
}

// newHarnessWith stands up the whole gallery on an httptest listener:
// real catalogs in a temp dir, a real pool over the given worker, and
// the server's background loops.
func newHarnessWith(t *testing.T, give func(modes.Mode) engine.Worker) *harness {
	t.Helper()

	dir := t.TempDir()
	modesPath := filepath.Join(dir, "modes.yml")
	if err := os.WriteFile(modesPath, []byte(testModesYAML), 0o644); err != nil {
		t.Fatalf("write modes.yml: %v", err)
	}
	flowsPath := filepath.Join(dir, "workflows.yml")
	if err := os.WriteFile(flowsPath, []byte(testWorkflowsYAML), 0o644); err != nil {
		t.Fatalf("write workflows.yml: %v", err)
	}

	manager, err := modes.NewManager(modesPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	flows, err := modes.NewWorkflowManager(flowsPath)
	if err != nil {
		t.Fatalf("NewWorkflowManager: %v", err)
	}

	outputs := store.NewOutputStore()
	factory := func(workerID string, mode modes.Mode) (engine.Worker, error) {
		return give(mode), nil
	}
	pool, err := engine.NewPool(factory, manager, stubRegistry{}, outputs, engine.Options{
		StopTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pool.Start(context.Background())

	refs := store.NewRefStore(0)
	ctrl := dream.NewController(pool, manager, dream.Options{Interval: time.Hour})

	s := New(config.Config{}, pool, manager, flows, refs, outputs, ctrl)
	s.startBackground()
	ts := httptest.NewServer(s.Handler())

	h := &harness{
		srv:     s,
		ts:      ts,
		pool:    pool,
		manager: manager,
		flows:   flows,
		refs:    refs,
		outputs: outputs,
		ctrl:    ctrl,
	}
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return h
}

// dial opens a patron session and consumes nothing: the greeting
// snapshots stay in the stream for the test to assert on or skip.
func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env map[string]interface{}) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m map[string]interface{}
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return m
}

// awaitType skips unrelated pushes (queue:state, system:status, dream
// candidates) until a frame of the wanted type arrives.
func awaitType(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 64; i++ {
		m := readFrame(t, conn)
		if m["type"] == want {
			return m
		}
	}
	t.Fatalf("no %q frame in 64 reads", want)
	return nil
}

// collectJobStream reads the frames of one submission in order: the
// first job frame must be job:ack echoing corr, then the job's stream
// until its terminal. Pushes interleave freely and are skipped.
func collectJobStream(t *testing.T, conn *websocket.Conn, corr string) []map[string]interface{} {
	t.Helper()

	var stream []map[string]interface{}
	jobID := ""
	for i := 0; i < 256; i++ {
		m := readFrame(t, conn)
		typ, _ := m["type"].(string)
		switch typ {
		case "job:ack":
			if m["id"] != corr {
				t.Fatalf("ack for foreign correlation %v, want %q", m["id"], corr)
			}
			if len(stream) != 0 {
				t.Fatalf("job:ack arrived after %d job frames", len(stream))
			}
			jobID, _ = m["jobId"].(string)
			stream = append(stream, m)
		case "job:progress", "job:complete", "job:cancel":
			if jobID == "" {
				t.Fatalf("%s before job:ack: %v", typ, m)
			}
			if m["jobId"] != jobID {
				continue // another session's job, nothing we commissioned
			}
			stream = append(stream, m)
			if typ == "job:complete" || typ == "job:cancel" {
				return stream
			}
		case "job:error":
			if m["id"] == corr || (jobID != "" && m["jobId"] == jobID) {
				stream = append(stream, m)
				return stream
			}
		}
	}
	t.Fatalf("no terminal frame for %q; collected %d", corr, len(stream))
	return nil
}
