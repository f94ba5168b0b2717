package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/pkg/sse"
)

// Usage reports token accounting for a one-shot answer.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Answer is the upstream response to a non-streaming query.
type Answer struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
	Usage  Usage  `json:"usage"`
}

type chatContent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Query asks one question about a document with the (already windowed)
// conversation attached, returning the complete answer.
func (c *Client) Query(ctx context.Context, documentID string, messages []chat.Message) (Answer, error) {
	body, err := c.buildChatRequest(ctx, documentID, messages)
	if err != nil {
		return Answer{}, err
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/chat", body)
	if err != nil {
		return Answer{}, err
	}

	var answer Answer
	if err := c.do(req, &answer); err != nil {
		return Answer{}, err
	}
	return answer, nil
}

// StreamQuery opens a streaming query. The returned stream must be closed
// by the caller.
func (c *Client) StreamQuery(ctx context.Context, documentID string, messages []chat.Message) (*Stream, error) {
	body, err := c.buildChatRequest(ctx, documentID, messages)
	if err != nil {
		return nil, err
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/chat/stream", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The client-wide timeout would sever a long-lived stream; rely on the
	// caller's context instead.
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeUpstreamError(resp)
	}

	return &Stream{body: resp.Body, dec: sse.NewDecoder(resp.Body)}, nil
}

// buildChatRequest resolves the document's signed URL and attaches it to
// the trailing user message, the shape the upstream Q&A endpoint expects.
func (c *Client) buildChatRequest(ctx context.Context, documentID string, messages []chat.Message) (chatRequest, error) {
	if len(messages) == 0 {
		return chatRequest{}, fmt.Errorf("no messages to send")
	}

	signedURL, err := c.GetSignedURL(ctx, documentID, 0)
	if err != nil {
		return chatRequest{}, fmt.Errorf("resolve document url: %w", err)
	}

	converted := make([]chatMessage, 0, len(messages))
	for _, msg := range messages[:len(messages)-1] {
		converted = append(converted, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	last := messages[len(messages)-1]
	converted = append(converted, chatMessage{
		Role: string(last.Role),
		Content: []chatContent{
			{Type: "text", Text: last.Content},
			{Type: "document_url", DocumentURL: signedURL},
		},
	})

	return chatRequest{Model: c.cfg.QAModel, Messages: converted}, nil
}

// Event is one decoded upstream stream frame of interest.
type Event struct {
	Content string
	Done    bool
	Err     string
}

// Stream yields answer deltas decoded from the upstream event stream.
type Stream struct {
	body io.ReadCloser
	dec  *sse.Decoder
}

// Recv returns the next event. Frames carrying neither a delta, a done
// marker nor an error are dropped. io.EOF signals the transport closed the
// stream; callers decide whether that is premature.
func (s *Stream) Recv() (Event, error) {
	for {
		frame, err := s.dec.Next()
		if err != nil {
			return Event{}, err
		}

		switch {
		case frame.Error != "":
			return Event{Err: frame.Error}, nil
		case frame.Done:
			return Event{Done: true}, nil
		case frame.Content != "":
			return Event{Content: frame.Content}, nil
		}
	}
}

// Skipped reports how many malformed upstream frames were dropped.
func (s *Stream) Skipped() int {
	return s.dec.Skipped()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
