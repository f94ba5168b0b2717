package transcript_test

import (
	"testing"

	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/pkg/sse"
	"github.com/laborare/docchat/pkg/transcript"
)

func TestTurnCompletes(t *testing.T) {
	view := transcript.NewView("", nil)

	if err := view.Submit("what is this document about?"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	messages := view.Messages()
	if len(messages) != 2 {
		t.Fatalf("optimistic append failed: %d messages", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", messages)
	}
	if messages[1].Content != "" {
		t.Fatalf("placeholder must start empty, got %q", messages[1].Content)
	}

	for _, delta := range []string{"It ", "is a ", "report."} {
		view.Apply(sse.Frame{Content: delta})
	}
	view.Apply(sse.Frame{Done: true, MessageCount: 2, SessionID: "lazy-id"})

	messages = view.Messages()
	if messages[1].Content != "It is a report." {
		t.Fatalf("assistant content mismatch: %q", messages[1].Content)
	}
	if view.SessionID() != "lazy-id" {
		t.Fatalf("lazily created session id not adopted: %q", view.SessionID())
	}
	if view.MessageCount() != 2 {
		t.Fatalf("diagnostic message count not kept: %d", view.MessageCount())
	}
	if view.State() != transcript.StateIdle {
		t.Fatalf("view must settle after completion")
	}
	if view.Draft() != "" {
		t.Fatalf("draft must clear after completion, got %q", view.Draft())
	}
}

func TestDeltasGrowMonotonically(t *testing.T) {
	view := transcript.NewView("s1", nil)
	if err := view.Submit("q"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	prev := 0
	for _, delta := range []string{"a", "bc", "def"} {
		view.ApplyDelta(delta)
		messages := view.Messages()
		current := len(messages[len(messages)-1].Content)
		if current < prev {
			t.Fatalf("placeholder shrank from %d to %d", prev, current)
		}
		prev = current
	}
}

func TestFailureRollsBackAndRestoresInput(t *testing.T) {
	prior := []chat.Message{
		{Role: chat.RoleUser, Content: "earlier question"},
		{Role: chat.RoleAssistant, Content: "earlier answer"},
	}
	view := transcript.NewView("s1", prior)

	if err := view.Submit("doomed question"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	view.Apply(sse.Frame{Content: "partial "})
	view.Apply(sse.Frame{Error: "upstream failed"})

	messages := view.Messages()
	if len(messages) != 2 {
		t.Fatalf("rollback must restore pre-submission transcript, got %d messages", len(messages))
	}
	if messages[1].Content != "earlier answer" {
		t.Fatalf("prior history corrupted: %+v", messages)
	}
	if view.Draft() != "doomed question" {
		t.Fatalf("original input not restored: %q", view.Draft())
	}
	if view.State() != transcript.StateIdle {
		t.Fatalf("view must be resubmittable after failure")
	}
}

func TestDoubleSubmitRejected(t *testing.T) {
	view := transcript.NewView("s1", nil)

	if err := view.Submit("first"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if err := view.Submit("second"); err != transcript.ErrTurnInFlight {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
}

func TestEventsOutsideTurnAreIgnored(t *testing.T) {
	view := transcript.NewView("s1", nil)

	view.ApplyDelta("stray")
	view.Complete("other", 9)
	view.Fail()

	if len(view.Messages()) != 0 {
		t.Fatalf("idle view must ignore stray events")
	}
	if view.SessionID() != "s1" {
		t.Fatalf("session id must not change outside a turn")
	}
}

func TestViewCopiesHistory(t *testing.T) {
	prior := []chat.Message{{Role: chat.RoleUser, Content: "original"}}
	view := transcript.NewView("s1", prior)

	prior[0].Content = "mutated"

	if view.Messages()[0].Content != "original" {
		t.Fatalf("view must not alias caller history")
	}
}
