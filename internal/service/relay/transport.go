package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/internal/service/ai"
)

// NewTransport adapts the upstream AI client to the Transport interface.
func NewTransport(client *ai.Client, logger *zap.Logger) Transport {
	return &aiTransport{client: client, log: logger}
}

type aiTransport struct {
	client *ai.Client
	log    *zap.Logger
}

func (t *aiTransport) Query(ctx context.Context, documentID string, messages []chat.Message) (string, error) {
	answer, err := t.client.Query(ctx, documentID, messages)
	if err != nil {
		return "", err
	}

	t.log.Debug("upstream answer received",
		zap.String("documentId", documentID),
		zap.Int("totalTokens", answer.Usage.TotalTokens))
	return answer.Answer, nil
}

func (t *aiTransport) StreamQuery(ctx context.Context, documentID string, messages []chat.Message) (Stream, error) {
	stream, err := t.client.StreamQuery(ctx, documentID, messages)
	if err != nil {
		return nil, err
	}
	return &upstreamStream{inner: stream, log: t.log}, nil
}

type upstreamStream struct {
	inner *ai.Stream
	log   *zap.Logger
}

func (s *upstreamStream) Recv() (Event, error) {
	event, err := s.inner.Recv()
	if err != nil {
		return Event{}, err
	}
	return Event{Content: event.Content, Done: event.Done, Err: event.Err}, nil
}

func (s *upstreamStream) Close() error {
	if n := s.inner.Skipped(); n > 0 {
		s.log.Warn("dropped malformed upstream frames", zap.Int("count", n))
	}
	return s.inner.Close()
}
