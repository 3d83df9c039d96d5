package server

import (
	"strings"
	"testing"
)

// bareClient builds a Client with just enough wiring to capture frames.
// Successful pushes never touch the server backref, so none is needed.
func bareClient() *Client {
	return &Client{
		queue: newSendQueue(8),
		subs:  make(map[string]*jobSub),
		corrs: make(map[string]string),
	}
}

func TestRouterUnknownTypeGetsErrorFrame(t *testing.T) {
	r := NewRouter()
	c := bareClient()

	r.dispatch(c, &Envelope{Type: "tarot:draw", ID: "t-1"})

	f, ok := c.queue.pop()
	if !ok {
		t.Fatal("no frame queued for unknown envelope type")
	}
	frame, ok := f.payload.(jobError)
	if !ok {
		t.Fatalf("queued payload is %T, want jobError", f.payload)
	}
	if frame.Kind != "UnknownType" {
		t.Errorf("kind = %q, want UnknownType", frame.Kind)
	}
	if frame.ID != "t-1" {
		t.Errorf("correlation id = %q, want t-1", frame.ID)
	}
	if !strings.Contains(frame.Error, "tarot:draw") {
		t.Errorf("error %q does not name the offending type", frame.Error)
	}
}

func TestRouterDispatchesToHandler(t *testing.T) {
	r := NewRouter()
	c := bareClient()

	var got *Envelope
	r.RegisterHandler("ping", func(_ *Client, env *Envelope) { got = env })

	r.dispatch(c, &Envelope{Type: "ping", ID: "p-1"})
	if got == nil || got.ID != "p-1" {
		t.Fatalf("handler saw %+v, want the dispatched envelope", got)
	}
	if c.queue.len() != 0 {
		t.Error("successful dispatch queued an unexpected frame")
	}
}

// Later registrations win, which is how tests stub one handler while
// leaving the rest of the table alone.
func TestRouterLaterRegistrationWins(t *testing.T) {
	r := NewRouter()
	c := bareClient()

	var calls []string
	r.RegisterHandler("job:submit", func(_ *Client, _ *Envelope) { calls = append(calls, "first") })
	r.RegisterHandler("job:submit", func(_ *Client, _ *Envelope) { calls = append(calls, "second") })

	r.dispatch(c, &Envelope{Type: "job:submit"})
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, want only the later handler", calls)
	}
}
