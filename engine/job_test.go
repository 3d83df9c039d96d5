package engine

import (
	"testing"
)

func TestNewJobID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewJobID()
		if len(id) != 12 {
			t.Fatalf("job id %q has length %d, want 12", id, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				t.Fatalf("job id %q contains non-hex %q", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate job id %q", id)
		}
		seen[id] = true
	}
}

func TestJobTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		j := NewJob(TypeGenerate, "c", PriorityNormal, SourceWS)
		if j.State() != StateQueued {
			t.Fatalf("fresh job state = %s", j.State())
		}
		if !j.transition(StateRunning, StateQueued) {
			t.Fatal("queued→running refused")
		}
		if !j.transition(StateDone, StateRunning, StateCanceling) {
			t.Fatal("running→done refused")
		}
		if !j.State().Terminal() {
			t.Error("done should be terminal")
		}
	})

	t.Run("cancel while queued", func(t *testing.T) {
		j := NewJob(TypeGenerate, "c", PriorityNormal, SourceWS)
		if !j.transition(StateCanceled, StateQueued) {
			t.Fatal("queued→canceled refused")
		}
		if j.transition(StateRunning, StateQueued) {
			t.Error("terminal job accepted a transition")
		}
	})

	t.Run("cancel while running", func(t *testing.T) {
		j := NewJob(TypeGenerate, "c", PriorityNormal, SourceWS)
		j.transition(StateRunning, StateQueued)
		if !j.transition(StateCanceling, StateRunning) {
			t.Fatal("running→canceling refused")
		}
		if !j.transition(StateCanceled, StateCanceling) {
			t.Fatal("canceling→canceled refused")
		}
	})

	t.Run("wrong precondition", func(t *testing.T) {
		j := NewJob(TypeGenerate, "c", PriorityNormal, SourceWS)
		if j.transition(StateDone, StateRunning) {
			t.Error("queued job moved to done via a running precondition")
		}
	})
}

func TestDescribe(t *testing.T) {
	j := NewJob(TypeSR, "corr", PriorityBatch, SourceHTTP)
	d := j.Describe()
	if d.ID != j.ID || d.Type != TypeSR || d.Priority != PriorityBatch || d.Source != SourceHTTP {
		t.Errorf("descriptor mismatch: %+v", d)
	}
	if d.SubmittedAt.IsZero() {
		t.Error("descriptor lost the submit time")
	}
}

func TestKnownType(t *testing.T) {
	for _, typ := range []Type{TypeGenerate, TypeSR, TypeComfy, TypeModeSwitch} {
		if !KnownType(typ) {
			t.Errorf("%s should be known", typ)
		}
	}
	if KnownType(Type("fresco")) {
		t.Error("fresco is not a job type")
	}
}

func TestPriorityString(t *testing.T) {
	if PriorityUrgent.String() != "urgent" || PriorityBackground.String() != "background" {
		t.Error("priority names drifted")
	}
	if ValidPriority(Priority(-1)) || ValidPriority(Priority(4)) {
		t.Error("out-of-lane priorities accepted")
	}
}
