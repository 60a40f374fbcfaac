package normalize

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobbot/internal/jobs"
)

func TestParseSalary(t *testing.T) {
	cases := []struct {
		name string
		text string
		want *float64
	}{
		{name: "hourly", text: "£11 per hour", want: ptr(22880)},
		{name: "annual with separator", text: "£25,000 a year", want: ptr(25000)},
		{name: "k suffix", text: "£30k per annum", want: ptr(30000)},
		{name: "range takes lower bound", text: "£28,000 - £32,000 a year", want: ptr(28000)},
		{name: "daily", text: "£100 per day", want: ptr(26000)},
		{name: "weekly", text: "£500 per week", want: ptr(26000)},
		{name: "monthly", text: "£2,000 per month", want: ptr(24000)},
		{name: "decimal hourly", text: "£10.50 an hour", want: ptr(21840)},
		{name: "no period is annual", text: "£40,000", want: ptr(40000)},
		{name: "pa abbreviation", text: "£35,000 p.a.", want: ptr(35000)},
		{name: "unparseable", text: "Competitive", want: nil},
		{name: "empty", text: "   ", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseSalary(tc.text, DefaultPeriod)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("expected nil, got %v", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("expected %v, got nil", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("expected %v, got %v", *tc.want, *got)
			}
		})
	}
}

func TestParseSalaryCustomPeriod(t *testing.T) {
	got := ParseSalary("£10 per hour", Period{HoursPerWeek: 20})
	if got == nil || *got != 10400 {
		t.Fatalf("expected 10400 for a 20h week, got %v", got)
	}
}

func TestCleanText(t *testing.T) {
	if got := CleanText("  Senior\n\tGo   Engineer "); got != "Senior Go Engineer" {
		t.Fatalf("unexpected clean text %q", got)
	}
	if got := CleanText(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestNormalize(t *testing.T) {
	n := New(Config{MaxDescriptionLength: 10}, zap.NewNop())

	norm, err := n.Normalize(jobs.Raw{
		jobs.RawTitle:       "  Go\nDeveloper ",
		jobs.RawCompany:     "Acme ",
		jobs.RawSalary:      "£11 per hour",
		jobs.RawDescription: "A very long description of the role",
		jobs.RawPlatform:    "Indeed",
		jobs.RawID:          123,
		jobs.RawReviews:     []string{" great place ", "", "bad pay"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := norm.Job
	if job.ID() != "indeed:123" {
		t.Fatalf("unexpected id %q", job.ID())
	}
	if job.Title != "Go Developer" || job.Company != "Acme" {
		t.Fatalf("text was not cleaned: %q %q", job.Title, job.Company)
	}
	if job.Description != "A very lon" {
		t.Fatalf("description was not truncated: %q", job.Description)
	}
	if job.Salary == nil || *job.Salary != 22880 {
		t.Fatalf("unexpected salary %v", job.Salary)
	}
	if job.State != jobs.StateScraped || job.CreatedAt.IsZero() {
		t.Fatalf("unexpected lifecycle fields: %q %v", job.State, job.CreatedAt)
	}
	if len(norm.Reviews) != 2 || norm.Reviews[0] != "great place" {
		t.Fatalf("unexpected reviews %#v", norm.Reviews)
	}
}

func TestNormalizeNumericSalary(t *testing.T) {
	n := New(Config{}, zap.NewNop())

	norm, err := n.Normalize(jobs.Raw{jobs.RawPlatform: "adzuna", jobs.RawID: "a1", jobs.RawSalary: 42000.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.Job.Salary == nil || *norm.Job.Salary != 42000 {
		t.Fatalf("unexpected salary %v", norm.Job.Salary)
	}

	norm, err = n.Normalize(jobs.Raw{jobs.RawPlatform: "adzuna", jobs.RawID: "a2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.Job.Salary != nil {
		t.Fatalf("expected nil salary, got %v", *norm.Job.Salary)
	}
}

func TestBatchDropsRecordsWithoutIdentity(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := New(Config{}, zap.New(core))

	out := n.Batch([]jobs.Raw{
		{jobs.RawPlatform: "indeed", jobs.RawID: "1", jobs.RawTitle: "kept"},
		{jobs.RawPlatform: "indeed", jobs.RawTitle: "no id"},
		{jobs.RawID: "3", jobs.RawTitle: "no platform"},
	})

	if len(out) != 1 || out[0].Job.Title != "kept" {
		t.Fatalf("unexpected batch %#v", out)
	}
	if got := logs.FilterMessage("dropping malformed record").Len(); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
}

func ptr(v float64) *float64 { return &v }
