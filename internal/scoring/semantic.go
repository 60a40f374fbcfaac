// Package scoring computes the semantic match and company reputation of jobs.
package scoring

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/ai"
)

const (
	defaultMinTextLength = 10
	// memoLimit bounds the score cache; it is dropped whole when full.
	memoLimit = 4096
)

// SemanticScorer measures how well a job's text matches the candidate profile.
type SemanticScorer struct {
	embedder      ai.Embedder
	profile       string
	minTextLength int
	logger        *zap.Logger

	mu         sync.Mutex
	profileVec []float32
	memo       map[[sha256.Size]byte]float64
	memoLimit  int
}

func NewSemanticScorer(embedder ai.Embedder, profile string, minTextLength int, logger *zap.Logger) *SemanticScorer {
	if minTextLength <= 0 {
		minTextLength = defaultMinTextLength
	}
	return &SemanticScorer{
		embedder:      embedder,
		profile:       strings.TrimSpace(profile),
		minTextLength: minTextLength,
		logger:        logger,
		memo:          make(map[[sha256.Size]byte]float64),
		memoLimit:     memoLimit,
	}
}

// Score returns the cosine similarity between the job text and the profile,
// clamped to [0,1]. It never fails: missing signal scores 0.
func (s *SemanticScorer) Score(ctx context.Context, title, description string) float64 {
	text := jobText(title, description)
	if utf8.RuneCountInString(text) < s.minTextLength {
		s.logger.Debug("job text too short for semantic scoring", zap.Int("length", utf8.RuneCountInString(text)))
		return 0
	}

	key := sha256.Sum256([]byte(text))
	s.mu.Lock()
	if score, ok := s.memo[key]; ok {
		s.mu.Unlock()
		return score
	}
	s.mu.Unlock()

	score, err := s.score(ctx, text)
	if err != nil {
		s.logger.Warn("semantic scoring failed", zap.String("title", title), zap.Error(err))
		return 0
	}

	s.mu.Lock()
	if len(s.memo) >= s.memoLimit {
		s.memo = make(map[[sha256.Size]byte]float64)
	}
	s.memo[key] = score
	s.mu.Unlock()

	return score
}

func (s *SemanticScorer) score(ctx context.Context, text string) (float64, error) {
	profile, err := s.profileVector(ctx)
	if err != nil {
		return 0, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 1 {
		return 0, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}

	return clamp01(Cosine(vectors[0], profile)), nil
}

func (s *SemanticScorer) profileVector(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profileVec != nil {
		return s.profileVec, nil
	}
	if s.profile == "" {
		return nil, errors.New("candidate profile is empty")
	}

	vectors, err := s.embedder.Embed(ctx, []string{s.profile})
	if err != nil {
		return nil, fmt.Errorf("embed profile: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("embed profile: empty embedding")
	}

	s.profileVec = vectors[0]
	return s.profileVec, nil
}

func (s *SemanticScorer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileVec = nil
	s.memo = make(map[[sha256.Size]byte]float64)
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or zero norm yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func jobText(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	switch {
	case title == "":
		return description
	case description == "":
		return title
	}
	return title + ". " + description
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
