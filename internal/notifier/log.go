package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

// LogNotifier writes every job to the log. It is the fallback when no
// transport is configured; decisions are then taken with the review command.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Component(log, "notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, batch []*jobs.Job) (int, error) {
	for i, j := range batch {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		n.logger.Info("job ready for review",
			zap.String(logger.FieldJobID, j.ID()),
			zap.String("title", j.Title),
			zap.String("company", j.Company),
			zap.Float64("semantic_score", j.Semantic()),
			zap.Int("company_rating", j.Rating()),
			zap.String("url", j.URL),
		)
	}
	return len(batch), nil
}
