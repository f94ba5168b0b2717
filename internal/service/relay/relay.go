// Package relay turns one client question into one durably recorded
// exchange, forwarding answer deltas live while they arrive.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/internal/service/window"
)

// ErrMissingDocument rejects a turn that names no document. Nothing has
// been persisted when it is returned.
var ErrMissingDocument = errors.New("relay: document reference is required")

// Store is the slice of the session store the relay needs.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]chat.Message, error)
	Save(ctx context.Context, sessionID, documentID string, messages []chat.Message) error
}

// Event is one upstream stream event.
type Event struct {
	Content string
	Done    bool
	Err     string
}

// Stream is an open upstream answer stream.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Transport is the question-answering backend.
type Transport interface {
	Query(ctx context.Context, documentID string, messages []chat.Message) (string, error)
	StreamQuery(ctx context.Context, documentID string, messages []chat.Message) (Stream, error)
}

// Sink receives the relay's downstream events. Delta and Done map onto the
// client wire contract; an error from any method means the client is gone.
type Sink interface {
	Delta(content string) error
	Done(sessionID string, messageCount int) error
	Fail(message string) error
}

// Request describes one turn. An empty SessionID lazily allocates a new
// session; the id travels back on the completion event.
type Request struct {
	SessionID  string
	DocumentID string
	Question   string
}

// Result is the outcome of a non-streaming turn.
type Result struct {
	SessionID    string `json:"sessionId"`
	Answer       string `json:"answer"`
	MessageCount int    `json:"messageCount"`
}

// Service runs turns against the store and transport. Invocations across
// sessions are independent; writes within one session serialize at the
// store.
type Service struct {
	store     Store
	transport Transport
	maxPrior  int
	timeout   time.Duration
	estimator *window.Estimator
	log       *zap.Logger
}

// New builds a relay. maxPrior bounds the history forwarded upstream;
// timeout bounds each upstream call, zero meaning no budget.
func New(store Store, transport Transport, maxPrior int, timeout time.Duration, logger *zap.Logger) *Service {
	if maxPrior <= 0 {
		maxPrior = window.DefaultMaxPrior
	}
	return &Service{
		store:     store,
		transport: transport,
		maxPrior:  maxPrior,
		timeout:   timeout,
		estimator: window.NewEstimator(),
		log:       logger,
	}
}

// Ask runs one non-streaming turn: load, windowed dispatch, synchronous
// persist. The exchange is durable before Ask returns.
func (s *Service) Ask(ctx context.Context, req Request) (Result, error) {
	if req.DocumentID == "" {
		return Result{}, ErrMissingDocument
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	userMsg := newMessage(chat.RoleUser, req.Question)
	windowed := window.Select(history, userMsg, s.maxPrior)
	s.logDispatch(sessionID, windowed)

	upstreamCtx, cancel := s.upstreamContext(ctx)
	defer cancel()

	answer, err := s.transport.Query(upstreamCtx, req.DocumentID, windowed)
	if err != nil {
		return Result{}, fmt.Errorf("upstream query: %w", err)
	}

	combined := appendTurn(history, userMsg, newMessage(chat.RoleAssistant, answer))
	if err := s.store.Save(ctx, sessionID, req.DocumentID, combined); err != nil {
		return Result{}, err
	}

	return Result{SessionID: sessionID, Answer: answer, MessageCount: len(combined)}, nil
}

// Stream runs one streaming turn, forwarding every delta to sink in
// arrival order. The exchange commits before the completion event is
// emitted; on any failure nothing is persisted.
func (s *Service) Stream(ctx context.Context, req Request, sink Sink) error {
	if req.DocumentID == "" {
		_ = sink.Fail("document reference is required")
		return ErrMissingDocument
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := s.store.Load(ctx, sessionID)
	if err != nil {
		_ = sink.Fail("conversation could not be loaded")
		return err
	}

	userMsg := newMessage(chat.RoleUser, req.Question)
	windowed := window.Select(history, userMsg, s.maxPrior)
	s.logDispatch(sessionID, windowed)

	upstreamCtx, cancel := s.upstreamContext(ctx)
	defer cancel()

	stream, err := s.transport.StreamQuery(upstreamCtx, req.DocumentID, windowed)
	if err != nil {
		_ = sink.Fail(fmt.Sprintf("upstream query failed: %v", err))
		return fmt.Errorf("open upstream stream: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		event, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				// Client went away while upstream was still open: cancel
				// and discard, nobody is listening for an error event.
				s.log.Info("client disconnected mid-stream",
					zap.String("sessionId", sessionID))
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("upstream closed before completion")
			}
			_ = sink.Fail(fmt.Sprintf("upstream stream failed: %v", err))
			return err
		}

		switch {
		case event.Err != "":
			_ = sink.Fail(event.Err)
			return fmt.Errorf("upstream error: %s", event.Err)

		case event.Done:
			return s.commit(ctx, sink, sessionID, req.DocumentID, history, userMsg, answer.String())

		case event.Content != "":
			answer.WriteString(event.Content)
			if err := sink.Delta(event.Content); err != nil {
				return fmt.Errorf("forward delta: %w", err)
			}
		}
	}
}

// commit persists the full turn and only then announces completion. The
// save runs detached from the request context: once upstream finished, a
// fully generated answer must not be lost to a client disconnect.
func (s *Service) commit(ctx context.Context, sink Sink, sessionID, documentID string, history []chat.Message, userMsg chat.Message, content string) error {
	combined := appendTurn(history, userMsg, newMessage(chat.RoleAssistant, content))

	if err := s.store.Save(context.WithoutCancel(ctx), sessionID, documentID, combined); err != nil {
		_ = sink.Fail("failed to persist conversation")
		return err
	}

	if err := sink.Done(sessionID, len(combined)); err != nil {
		// Already durable; a dead client only misses the event.
		s.log.Warn("completion event not delivered",
			zap.String("sessionId", sessionID), zap.Error(err))
	}
	return nil
}

func (s *Service) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) logDispatch(sessionID string, windowed []chat.Message) {
	s.log.Debug("dispatching windowed query",
		zap.String("sessionId", sessionID),
		zap.Int("messages", len(windowed)),
		zap.Int("estimatedTokens", s.estimator.Count(windowed)))
}

func newMessage(role chat.Role, content string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func appendTurn(history []chat.Message, userMsg, assistantMsg chat.Message) []chat.Message {
	combined := make([]chat.Message, 0, len(history)+2)
	combined = append(combined, history...)
	return append(combined, userMsg, assistantMsg)
}
