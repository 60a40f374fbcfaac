package scoring

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/ai"
	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/utils"
)

const (
	defaultMaxReviewLength = 512

	NoReviewsSummary      = "No reviews available."
	NoValidReviewsSummary = "No valid reviews."
)

// ReputationScorer turns company reviews into a 1-10 rating and a summary.
type ReputationScorer struct {
	classifier      ai.SentimentClassifier
	maxReviewLength int
	logger          *zap.Logger
}

func NewReputationScorer(classifier ai.SentimentClassifier, maxReviewLength int, logger *zap.Logger) *ReputationScorer {
	if maxReviewLength <= 0 {
		maxReviewLength = defaultMaxReviewLength
	}
	return &ReputationScorer{
		classifier:      classifier,
		maxReviewLength: maxReviewLength,
		logger:          logger,
	}
}

// Rate classifies every review and returns the share of positive reviews
// scaled to 10. Reviews that fail to classify are excluded from the total.
func (r *ReputationScorer) Rate(ctx context.Context, reviews []string) (int, string) {
	if len(reviews) == 0 {
		return jobs.NeutralRating, NoReviewsSummary
	}

	var pos, neg int
	for _, review := range reviews {
		sentiment, err := r.classifier.Classify(ctx, utils.TruncateRunes(review, r.maxReviewLength))
		if err != nil {
			r.logger.Warn("skipped one review", zap.Error(err))
			continue
		}
		if sentiment == ai.Positive {
			pos++
		} else {
			neg++
		}
	}

	total := pos + neg
	if total == 0 {
		return jobs.NeutralRating, NoValidReviewsSummary
	}

	rating := int(math.Round(float64(pos) / float64(total) * 10))
	if rating < 1 {
		rating = 1
	}

	return rating, fmt.Sprintf("%d/10 rating from %d reviews. %s", rating, total, band(rating))
}

func band(rating int) string {
	switch {
	case rating >= 8:
		return "Strongly positive feedback overall."
	case rating >= 5:
		return "Mixed reputation, exercise discretion."
	default:
		return "Mostly negative sentiment."
	}
}
