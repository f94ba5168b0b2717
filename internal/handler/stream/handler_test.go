package stream_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/laborare/docchat/internal/handler"
	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/internal/service/relay"
	"github.com/laborare/docchat/internal/service/session"
	"github.com/laborare/docchat/pkg/sse"
	"github.com/laborare/docchat/pkg/transcript"
)

type fakeStream struct {
	events []relay.Event
	pos    int
}

func (s *fakeStream) Recv() (relay.Event, error) {
	if s.pos < len(s.events) {
		event := s.events[s.pos]
		s.pos++
		return event, nil
	}
	return relay.Event{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeTransport struct {
	events []relay.Event
	answer string
}

func (t *fakeTransport) Query(context.Context, string, []chat.Message) (string, error) {
	return t.answer, nil
}

func (t *fakeTransport) StreamQuery(context.Context, string, []chat.Message) (relay.Stream, error) {
	return &fakeStream{events: t.events}, nil
}

func newServer(t *testing.T, transport relay.Transport) (http.Handler, *session.Service) {
	t.Helper()

	sessions, err := session.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("session.New err: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	logger := zap.NewNop()
	relaySvc := relay.New(sessions, transport, 4, 0, logger)
	return handler.NewRouter(nil, sessions, relaySvc, 50, logger), sessions
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamEndToEnd(t *testing.T) {
	router, sessions := newServer(t, &fakeTransport{events: []relay.Event{
		{Content: "It "},
		{Content: "is a "},
		{Content: "report."},
		{Done: true},
	}})

	view := transcript.NewView("", nil)
	input := "what is this document about?"
	if err := view.Submit(input); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	rec := postJSON(t, router, "/api/qa/stream", map[string]string{
		"documentId": "doc-1",
		"question":   input,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}

	dec := sse.NewDecoder(rec.Body)
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next err: %v", err)
		}
		view.Apply(frame)
	}

	sessionID := view.SessionID()
	if sessionID == "" {
		t.Fatal("lazy session id did not reach the client")
	}

	persisted, err := sessions.Load(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("unexpected persisted count: %d", len(persisted))
	}
	if persisted[1].Content != "It is a report." {
		t.Fatalf("assistant content mismatch: %q", persisted[1].Content)
	}

	// Client-visible transcript matches what the server persisted.
	visible := view.Messages()
	if len(visible) != 2 {
		t.Fatalf("unexpected visible count: %d", len(visible))
	}
	for i := range persisted {
		if visible[i].Role != persisted[i].Role || visible[i].Content != persisted[i].Content {
			t.Fatalf("message %d mismatch: visible %+v persisted %+v", i, visible[i], persisted[i])
		}
	}
}

func TestStreamUpstreamErrorRollsClientBack(t *testing.T) {
	router, sessions := newServer(t, &fakeTransport{events: []relay.Event{
		{Content: "partial "},
		{Err: "model overloaded"},
	}})

	view := transcript.NewView("fixed-session", nil)
	input := "doomed question"
	if err := view.Submit(input); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	rec := postJSON(t, router, "/api/qa/stream", map[string]string{
		"sessionId":  "fixed-session",
		"documentId": "doc-1",
		"question":   input,
	})

	dec := sse.NewDecoder(rec.Body)
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next err: %v", err)
		}
		view.Apply(frame)
	}

	persisted, err := sessions.Load(context.Background(), "fixed-session")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("failed turn persisted %d messages", len(persisted))
	}

	if len(view.Messages()) != 0 {
		t.Fatalf("client transcript not rolled back: %+v", view.Messages())
	}
	if view.Draft() != input {
		t.Fatalf("original input not restored: %q", view.Draft())
	}
}

func TestStreamMissingDocumentEmitsErrorFrame(t *testing.T) {
	router, _ := newServer(t, &fakeTransport{})

	rec := postJSON(t, router, "/api/qa/stream", map[string]string{
		"question": "no document here",
	})

	frame, err := sse.NewDecoder(rec.Body).Next()
	if err != nil {
		t.Fatalf("Next err: %v", err)
	}
	if frame.Error == "" {
		t.Fatalf("expected an error frame, got %+v", frame)
	}
}

func TestStreamRejectsEmptyQuestion(t *testing.T) {
	router, _ := newServer(t, &fakeTransport{})

	rec := postJSON(t, router, "/api/qa/stream", map[string]string{
		"documentId": "doc-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestQueryPersistsSynchronously(t *testing.T) {
	router, sessions := newServer(t, &fakeTransport{answer: "It is a report."})

	rec := postJSON(t, router, "/api/qa/query", map[string]string{
		"documentId": "doc-1",
		"question":   "what is this document about?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body: %s", rec.Code, rec.Body.String())
	}

	var result relay.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Answer != "It is a report." || result.MessageCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	persisted, err := sessions.Load(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("exchange not persisted before response: %d", len(persisted))
	}
}
