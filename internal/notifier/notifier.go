// Package notifier delivers ranked jobs to the user and feeds their
// accept/decline answers back into the store.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/jobbot/internal/jobs"
)

// Notifier delivers jobs in order. It returns how many jobs of the batch
// prefix were delivered; on error the remaining jobs were not.
type Notifier interface {
	Send(ctx context.Context, batch []*jobs.Job) (int, error)
}

// DecisionHandler records a user's answer for a job.
type DecisionHandler func(ctx context.Context, jobID string, accepted bool, actorID string) error

var ErrMalformedDecision = errors.New("malformed decision")

const (
	actionAccept  = "accept"
	actionDecline = "decline"
)

// ParseDecision accepts either a JSON decision or the short "accept:<job id>"
// and "decline:<job id>" forms used by inline buttons.
func ParseDecision(body []byte) (jobs.Decision, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return jobs.Decision{}, ErrMalformedDecision
	}

	if strings.HasPrefix(text, "{") {
		var d jobs.Decision
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return jobs.Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
		}
		if strings.TrimSpace(d.JobID) == "" {
			return jobs.Decision{}, fmt.Errorf("%w: job_id is empty", ErrMalformedDecision)
		}
		return d, nil
	}

	action, id, ok := strings.Cut(text, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return jobs.Decision{}, fmt.Errorf("%w: %q", ErrMalformedDecision, text)
	}
	switch strings.ToLower(action) {
	case actionAccept:
		return jobs.Decision{JobID: strings.TrimSpace(id), Accepted: true}, nil
	case actionDecline:
		return jobs.Decision{JobID: strings.TrimSpace(id)}, nil
	}
	return jobs.Decision{}, fmt.Errorf("%w: unknown action %q", ErrMalformedDecision, action)
}

// Format renders a job as a short human readable message.
func Format(j *jobs.Job) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", j.Title)
	if j.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", j.Company)
	}
	if j.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", j.Location)
	}
	if j.Salary != nil {
		fmt.Fprintf(&b, "Salary: £%.0f a year\n", *j.Salary)
	}
	if j.SemanticScore != nil {
		fmt.Fprintf(&b, "Match: %.0f%%\n", *j.SemanticScore*100)
	}
	if j.CompanyRatingSummary != "" {
		fmt.Fprintf(&b, "Reputation: %s\n", j.CompanyRatingSummary)
	}
	if j.URL != "" {
		fmt.Fprintf(&b, "%s\n", j.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
