package filtering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
)

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

type semanticFilter struct {
	toggle
	threshold float64
}

// NewSemantic creates a filter that keeps jobs whose semantic score reaches the threshold.
func NewSemantic() Filter {
	return &semanticFilter{}
}

func (f *semanticFilter) Name() string { return "semantic" }

func (f *semanticFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	t := cfg.Thresholds.Semantic
	if t < 0 || t > 1 {
		return fmt.Errorf("semantic threshold must be within [0,1], got %v", t)
	}
	f.threshold = t
	return nil
}

func (f *semanticFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	kept, dropped := keepIf(list, func(j *jobs.Job) bool { return meetsSemantic(j, f.threshold) })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Debug("excluding jobs below semantic threshold",
			zap.Float64("threshold", f.threshold),
			zap.Strings("excluded_jobs", dropped),
		)
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *semanticFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"threshold": strconv.FormatFloat(f.threshold, 'f', 2, 64)},
	}
}

type reputationFilter struct {
	toggle
	threshold int
}

// NewReputation creates a filter that keeps jobs whose company rating reaches the threshold.
func NewReputation() Filter {
	return &reputationFilter{}
}

func (f *reputationFilter) Name() string { return "reputation" }

func (f *reputationFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	t := cfg.Thresholds.Rating
	if t < 0 || t > 10 {
		return fmt.Errorf("rating threshold must be within [0,10], got %d", t)
	}
	f.threshold = t
	return nil
}

func (f *reputationFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	kept, dropped := keepIf(list, func(j *jobs.Job) bool { return meetsRating(j, f.threshold) })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Debug("excluding jobs below rating threshold",
			zap.Int("threshold", f.threshold),
			zap.Strings("excluded_jobs", dropped),
		)
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *reputationFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"threshold": strconv.Itoa(f.threshold)},
	}
}

type salaryFloorFilter struct {
	toggle
	minimum float64
}

// NewSalaryFloor creates a filter that drops jobs paying below the minimum.
// Jobs without a salary are kept.
func NewSalaryFloor() Filter {
	return &salaryFloorFilter{}
}

func (f *salaryFloorFilter) Name() string { return "salary_floor" }

func (f *salaryFloorFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Thresholds.MinimumSalary < 0 {
		return fmt.Errorf("minimum salary must not be negative")
	}
	f.minimum = cfg.Thresholds.MinimumSalary
	return nil
}

func (f *salaryFloorFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	kept, dropped := keepIf(list, func(j *jobs.Job) bool { return meetsSalaryFloor(j, f.minimum) })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Debug("excluding jobs below salary floor",
			zap.Float64("minimum", f.minimum),
			zap.Strings("excluded_jobs", dropped),
		)
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *salaryFloorFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"minimum": strconv.FormatFloat(f.minimum, 'f', 0, 64)},
	}
}

type excludedCompaniesFilter struct {
	toggle
	companies []string
}

// NewExcludedCompanies creates a filter that removes jobs by companies configured in the config.
func NewExcludedCompanies() Filter {
	return &excludedCompaniesFilter{}
}

func (f *excludedCompaniesFilter) Name() string { return "excluded_companies" }

func (f *excludedCompaniesFilter) Validate(cfg *Config) error {
	f.companies = nil
	if cfg != nil {
		f.companies = lowerAll(cfg.ExcludedCompanies)
	}
	return nil
}

func (f *excludedCompaniesFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	if len(f.companies) == 0 {
		return list, Step{Initial: len(list), Left: len(list)}, nil
	}

	kept, dropped := keepIf(list, func(j *jobs.Job) bool {
		company := strings.ToLower(j.Company)
		for _, c := range f.companies {
			if company == c {
				return false
			}
		}
		return true
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding jobs by companies",
			zap.Strings("excluded_companies", f.companies),
			zap.Strings("excluded_jobs", dropped),
			zap.Int("jobs_left", len(kept)),
		)
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *excludedCompaniesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type redFlagsFilter struct {
	toggle
	terms []string
}

// NewRedFlags creates a filter that drops jobs mentioning a configured red-flag term.
func NewRedFlags() Filter {
	return &redFlagsFilter{}
}

func (f *redFlagsFilter) Name() string { return "red_flags" }

func (f *redFlagsFilter) Validate(cfg *Config) error {
	f.terms = nil
	if cfg != nil {
		f.terms = lowerAll(cfg.RedFlags)
	}
	return nil
}

func (f *redFlagsFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	if len(f.terms) == 0 {
		return list, Step{Initial: len(list), Left: len(list)}, nil
	}

	kept, dropped := keepIf(list, func(j *jobs.Job) bool { return ContainsRedFlag(j, f.terms) == "" })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding jobs with red flags",
			zap.Strings("excluded_jobs", dropped),
			zap.Int("jobs_left", len(kept)),
		)
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *redFlagsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"terms": strconv.Itoa(len(f.terms))},
	}
}

// ContainsRedFlag returns the first lower-cased term found in the job's
// title, company or description, or "" when none match.
func ContainsRedFlag(job *jobs.Job, terms []string) string {
	return matchTerm(job, terms)
}

func matchTerm(job *jobs.Job, terms []string) string {
	text := strings.ToLower(job.Title + " " + job.Company + " " + job.Description)
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return term
		}
	}
	return ""
}

var partTimeMarkers = []string{"part time", "part-time", "parttime"}

type partTimeFilter struct {
	toggle
	only bool
}

// NewPartTime creates a filter that, when part-time-only is set, keeps jobs advertised as part time.
func NewPartTime() Filter {
	return &partTimeFilter{}
}

func (f *partTimeFilter) Name() string { return "part_time" }

func (f *partTimeFilter) Validate(cfg *Config) error {
	f.only = cfg != nil && cfg.PartTimeOnly
	return nil
}

func (f *partTimeFilter) Apply(_ context.Context, deps Deps, list []*jobs.Job) ([]*jobs.Job, Step, error) {
	if !f.only {
		return list, Step{Initial: len(list), Left: len(list)}, nil
	}

	kept, dropped := keepIf(list, func(j *jobs.Job) bool {
		return matchTerm(j, partTimeMarkers) != ""
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Debug("excluding jobs not advertised as part time", zap.Strings("excluded_jobs", dropped))
	}
	return kept, Step{Initial: len(list), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *partTimeFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"part_time_only": strconv.FormatBool(f.only)},
	}
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
