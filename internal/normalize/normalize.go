// Package normalize turns raw adapter records into job records: it cleans
// text, parses salaries and drops records without an identity.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/utils"
)

const defaultMaxDescriptionLength = 1000

// ErrMissingIdentity is returned for records without a platform or id.
var ErrMissingIdentity = errors.New("record has no platform or id")

// Config controls normalization.
type Config struct {
	MaxDescriptionLength int
	Period               Period
}

// Normalized is a job together with the reviews scraped for its company.
// Reviews are only kept until scoring.
type Normalized struct {
	Job     *jobs.Job
	Reviews []string
}

type record struct {
	Title       string   `mapstructure:"title"`
	Company     string   `mapstructure:"company"`
	Location    string   `mapstructure:"location"`
	Salary      any      `mapstructure:"salary"`
	Description string   `mapstructure:"description"`
	URL         string   `mapstructure:"url"`
	Platform    string   `mapstructure:"platform"`
	ID          string   `mapstructure:"id"`
	Reviews     []string `mapstructure:"reviews"`
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, log *zap.Logger) *Normalizer {
	if cfg.MaxDescriptionLength <= 0 {
		cfg.MaxDescriptionLength = defaultMaxDescriptionLength
	}
	cfg.Period = cfg.Period.withDefaults()

	return &Normalizer{
		cfg:    cfg,
		logger: logger.Component(log, "normalizer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Normalize converts one raw record.
func (n *Normalizer) Normalize(raw jobs.Raw) (*Normalized, error) {
	var rec record
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rec,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(raw)); err != nil {
		return nil, fmt.Errorf("decode raw record: %w", err)
	}

	platform := strings.ToLower(CleanText(rec.Platform))
	id := CleanText(rec.ID)
	if platform == "" || id == "" {
		return nil, ErrMissingIdentity
	}

	job := &jobs.Job{
		Platform:    platform,
		ExternalID:  id,
		Title:       CleanText(rec.Title),
		Company:     CleanText(rec.Company),
		Location:    CleanText(rec.Location),
		Description: utils.TruncateRunes(CleanText(rec.Description), n.cfg.MaxDescriptionLength),
		URL:         strings.TrimSpace(rec.URL),
		Salary:      n.salary(rec.Salary),
		State:       jobs.StateScraped,
		CreatedAt:   n.now(),
	}

	reviews := make([]string, 0, len(rec.Reviews))
	for _, r := range rec.Reviews {
		if r = CleanText(r); r != "" {
			reviews = append(reviews, r)
		}
	}

	return &Normalized{Job: job, Reviews: reviews}, nil
}

// Batch normalizes raws, dropping malformed records with a warning.
func (n *Normalizer) Batch(raws []jobs.Raw) []Normalized {
	out := make([]Normalized, 0, len(raws))
	for idx, raw := range raws {
		norm, err := n.Normalize(raw)
		if err != nil {
			n.logger.Warn("dropping malformed record",
				zap.Int("index", idx),
				zap.Any(logger.FieldPlatform, raw[jobs.RawPlatform]),
				zap.Error(err),
			)
			continue
		}
		out = append(out, *norm)
	}

	if dropped := len(raws) - len(out); dropped > 0 {
		n.logger.Info("normalized batch", zap.Int("received", len(raws)), zap.Int("dropped", dropped))
	}

	return out
}

func (n *Normalizer) salary(v any) *float64 {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return ParseSalary(val, n.cfg.Period)
	case float64:
		return positive(val)
	case float32:
		return positive(float64(val))
	case int:
		return positive(float64(val))
	case int64:
		return positive(float64(val))
	case *float64:
		if val == nil {
			return nil
		}
		return positive(*val)
	default:
		return nil
	}
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// CleanText collapses runs of whitespace into single spaces and trims.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
