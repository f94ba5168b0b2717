// Package window bounds the conversation context forwarded to the Q&A
// backend. Truncation is recency-biased: the oldest messages drop first.
package window

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/laborare/docchat/internal/model/chat"
)

// DefaultMaxPrior is the number of prior messages retained when no
// override is configured, yielding a five-message window.
const DefaultMaxPrior = 4

// Select returns the most recent maxPrior messages of history, in
// chronological order, followed by pending. Shorter histories are kept
// whole. The result never aliases history.
func Select(history []chat.Message, pending chat.Message, maxPrior int) []chat.Message {
	if maxPrior < 0 {
		maxPrior = 0
	}

	start := 0
	if len(history) > maxPrior {
		start = len(history) - maxPrior
	}

	selected := make([]chat.Message, 0, len(history)-start+1)
	selected = append(selected, history[start:]...)
	selected = append(selected, pending)
	return selected
}

// Estimator approximates the token footprint of a windowed prompt. Counts
// are diagnostic only and never influence selection.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an estimator on the cl100k_base encoding. When the
// encoding cannot be loaded the estimator falls back to a bytes/4 heuristic.
func NewEstimator() *Estimator {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Estimator{enc: enc}
}

// Count returns the estimated token total across the given messages.
func (e *Estimator) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		if e.enc == nil {
			total += len(msg.Content) / 4
			continue
		}
		total += len(e.enc.Encode(msg.Content, nil, nil))
	}
	return total
}
