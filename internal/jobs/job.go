// Package jobs holds the job listing model shared by the ingestion pipeline,
// the store and the notifiers.
package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Raw is a job record as produced by a source adapter, before normalization.
type Raw map[string]any

// Raw record keys understood by the normalizer.
const (
	RawTitle       = "title"
	RawCompany     = "company"
	RawLocation    = "location"
	RawSalary      = "salary"
	RawDescription = "description"
	RawURL         = "url"
	RawPlatform    = "platform"
	RawID          = "id"
	RawReviews     = "reviews"
)

// Job is a normalized listing. Identity is (Platform, ExternalID).
type Job struct {
	Platform    string   `json:"platform"`
	ExternalID  string   `json:"external_id"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Salary      *float64 `json:"salary,omitempty"`
	URL         string   `json:"url"`

	SemanticScore        *float64 `json:"semantic_score,omitempty"`
	CompanyRating        *int     `json:"company_rating,omitempty"`
	CompanyRatingSummary string   `json:"company_rating_summary,omitempty"`
	Rank                 *int     `json:"rank,omitempty"`

	State     State      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// ID returns the store key of the job.
func (j *Job) ID() string {
	return MakeID(j.Platform, j.ExternalID)
}

// MakeID builds the store key for a (platform, external id) pair.
func MakeID(platform, externalID string) string {
	return fmt.Sprintf("%s:%s", platform, externalID)
}

// SplitID is the inverse of MakeID.
func SplitID(id string) (platform, externalID string, err error) {
	platform, externalID, ok := strings.Cut(id, ":")
	if !ok || platform == "" || externalID == "" {
		return "", "", fmt.Errorf("malformed job id %q", id)
	}
	return platform, externalID, nil
}

// Semantic returns the semantic score, or 0 when the job is unscored.
func (j *Job) Semantic() float64 {
	if j.SemanticScore == nil {
		return 0
	}
	return *j.SemanticScore
}

// Rating returns the company rating, or the neutral rating when unscored.
func (j *Job) Rating() int {
	if j.CompanyRating == nil {
		return NeutralRating
	}
	return *j.CompanyRating
}

// Copy returns a copy that shares no pointers with j.
func (j *Job) Copy() *Job {
	c := *j
	if j.Salary != nil {
		v := *j.Salary
		c.Salary = &v
	}
	if j.SemanticScore != nil {
		v := *j.SemanticScore
		c.SemanticScore = &v
	}
	if j.CompanyRating != nil {
		v := *j.CompanyRating
		c.CompanyRating = &v
	}
	if j.Rank != nil {
		v := *j.Rank
		c.Rank = &v
	}
	if j.SentAt != nil {
		v := *j.SentAt
		c.SentAt = &v
	}
	if j.DecidedAt != nil {
		v := *j.DecidedAt
		c.DecidedAt = &v
	}
	return &c
}

// NeutralRating is used for companies without usable reviews.
const NeutralRating = 5

// Decision is a single accept/decline action taken by a user.
type Decision struct {
	JobID     string    `json:"job_id"`
	Accepted  bool      `json:"accepted"`
	ActorID   string    `json:"actor_id,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Stats summarises the store contents.
type Stats struct {
	Scraped  int `json:"scraped"`
	Sent     int `json:"sent"`
	Accepted int `json:"accepted"`
	Declined int `json:"declined"`
	// Pending counts jobs that were sent but not decided yet.
	Pending int `json:"pending"`
}

// Total is the number of jobs ever stored and not purged.
func (s Stats) Total() int {
	return s.Scraped + s.Sent + s.Accepted + s.Declined
}
