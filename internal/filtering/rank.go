package filtering

import (
	"cmp"
	"slices"

	"github.com/spigell/jobbot/internal/jobs"
)

// Thresholds are inclusive lower bounds a job must reach to be ranked.
type Thresholds struct {
	Semantic      float64
	Rating        int
	MinimumSalary float64
}

// DefaultThresholds returns the stock ranking thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Semantic: 0.7, Rating: 6, MinimumSalary: 11000}
}

func meetsSemantic(j *jobs.Job, threshold float64) bool { return j.Semantic() >= threshold }

func meetsRating(j *jobs.Job, threshold int) bool { return j.Rating() >= threshold }

func meetsSalaryFloor(j *jobs.Job, minimum float64) bool {
	return j.Salary == nil || *j.Salary >= minimum
}

// FilterAndRank keeps the jobs meeting every threshold and returns them
// ranked. The input slice and its jobs are left untouched.
//
// The scrape cycle reaches the same result through Run over the Default
// chain followed by Rank: the semantic, reputation and salary steps share
// the predicates used here, and the remaining steps only drop more jobs.
func FilterAndRank(list []*jobs.Job, th Thresholds) []*jobs.Job {
	kept, _ := keepIf(list, func(j *jobs.Job) bool {
		return meetsSemantic(j, th.Semantic) && meetsRating(j, th.Rating) && meetsSalaryFloor(j, th.MinimumSalary)
	})
	return Rank(kept)
}

// Rank returns copies of list sorted by semantic score, then company
// rating, both descending, with Rank set to the 1-based position.
// Ties on both keys keep input order.
func Rank(list []*jobs.Job) []*jobs.Job {
	out := make([]*jobs.Job, len(list))
	for i, job := range list {
		out[i] = job.Copy()
	}

	slices.SortStableFunc(out, func(a, b *jobs.Job) int {
		if c := cmp.Compare(b.Semantic(), a.Semantic()); c != 0 {
			return c
		}
		return cmp.Compare(b.Rating(), a.Rating())
	})

	for i, job := range out {
		pos := i + 1
		job.Rank = &pos
	}

	return out
}
