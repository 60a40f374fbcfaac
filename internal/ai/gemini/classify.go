package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/ai"
	"github.com/spigell/jobbot/internal/utils"
)

const (
	classifyInstruction = `You label employee reviews of a company.
Answer with a single JSON object: {"sentiment": "positive"} or {"sentiment": "negative"}.
Do not add any other keys or text.`

	maxLogLength = 200
)

// Classify labels a single review as positive or negative.
func (g *Generator) Classify(ctx context.Context, text string) (ai.Sentiment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty review", ai.ErrUnknownSentiment)
	}

	g.logger.Debug("gemini classify request",
		zap.Int("review_length", utf8.RuneCountInString(text)),
		zap.String("review_preview", utils.TruncateForLog(text, maxLogLength)),
	)

	raw, err := g.GenerateContent(ctx, classifyInstruction, "Review:\n"+text)
	if err != nil {
		return "", err
	}

	sentiment, err := parseSentiment(raw)
	if err != nil {
		g.logger.Debug("unparseable gemini classification",
			zap.String("response_preview", utils.TruncateForLog(raw, maxLogLength)),
			zap.Error(err),
		)
		return "", err
	}

	return sentiment, nil
}

// parseSentiment accepts {"sentiment": "..."}, {"label": "..."},
// {"positive": true} or {"score": 0.8}; a bare label is accepted too.
func parseSentiment(raw string) (ai.Sentiment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		if s, perr := ai.ParseSentiment(strings.Trim(cleaned, `"'.`)); perr == nil {
			return s, nil
		}
		return "", fmt.Errorf("parse gemini response: %w", err)
	}

	for _, key := range []string{"sentiment", "label"} {
		if label := coerceString(data[key]); label != "" {
			return ai.ParseSentiment(label)
		}
	}

	if v, ok := data["positive"]; ok {
		if coerceBool(v) {
			return ai.Positive, nil
		}
		return ai.Negative, nil
	}

	if score := coerceFloat(data["score"]); !math.IsNaN(score) {
		if score >= 0.5 {
			return ai.Positive, nil
		}
		return ai.Negative, nil
	}

	return "", fmt.Errorf("%w: %s", ai.ErrUnknownSentiment, utils.TruncateForLog(cleaned, maxLogLength))
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
