package scoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/spigell/jobbot/internal/ai"
)

const defaultHashDimensions = 512

var (
	positiveWords = wordSet("good", "great", "excellent", "amazing", "friendly", "supportive", "helpful",
		"flexible", "fair", "love", "loved", "enjoy", "enjoyed", "recommend", "positive", "happy",
		"fun", "rewarding", "generous", "respectful", "best", "nice", "awesome", "balance", "growth")
	negativeWords = wordSet("bad", "poor", "terrible", "awful", "toxic", "stressful", "rude", "unfair",
		"hate", "hated", "worst", "negative", "unpaid", "underpaid", "overworked", "micromanagement",
		"micromanaged", "chaotic", "disorganised", "disorganized", "horrible", "avoid", "low", "boring")
	negators  = wordSet("not", "no", "never", "hardly", "isn't", "wasn't", "don't", "didn't")
	stopWords = wordSet("a", "an", "and", "the", "of", "to", "in", "for", "on", "with", "at", "by",
		"is", "are", "be", "as", "or", "we", "you", "our", "your", "will", "this", "that", "it")
)

// KeywordClassifier labels reviews with a small sentiment lexicon. It is
// used when no model provider is configured.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, text string) (ai.Sentiment, error) {
	var score int
	negate := false
	for _, tok := range tokens(text) {
		if _, ok := negators[tok]; ok {
			negate = true
			continue
		}

		delta := 0
		if _, ok := positiveWords[tok]; ok {
			delta = 1
		} else if _, ok := negativeWords[tok]; ok {
			delta = -1
		}
		if negate {
			delta = -delta
		}
		score += delta
		if delta != 0 {
			negate = false
		}
	}

	switch {
	case score > 0:
		return ai.Positive, nil
	case score < 0:
		return ai.Negative, nil
	}
	return "", fmt.Errorf("%w: no sentiment keywords", ai.ErrUnknownSentiment)
}

// HashingEmbedder maps texts into a fixed-size bag-of-words vector using
// feature hashing. Deterministic and offline.
type HashingEmbedder struct {
	Dimensions int
}

func (h HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = defaultHashDimensions
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dims)
		for _, tok := range tokens(text) {
			if _, ok := stopWords[tok]; ok {
				continue
			}
			hasher := fnv.New32a()
			_, _ = hasher.Write([]byte(tok))
			vec[hasher.Sum32()%uint32(dims)]++
		}
		l2Normalize(vec)
		out[i] = vec
	}

	return out, nil
}

func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '+' && r != '#'
	})
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
