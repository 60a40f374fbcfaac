// Package ai declares the model capabilities the scoring engine depends on.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentiment is the polarity of a single review.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
)

// ErrUnknownSentiment is returned when a classifier answer cannot be mapped to a Sentiment.
var ErrUnknownSentiment = errors.New("unknown sentiment")

// ParseSentiment maps common labels (POSITIVE, neg, LABEL_1...) to a Sentiment.
func ParseSentiment(label string) (Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "pos", "label_1", "1":
		return Positive, nil
	case "negative", "neg", "label_0", "0":
		return Negative, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSentiment, label)
}

// Embedder turns texts into dense vectors. The result has one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SentimentClassifier labels a single review.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (Sentiment, error)
}
