package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobbot/internal/cleanup"
	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/normalize"
	"github.com/spigell/jobbot/internal/store"
)

type stubSources struct {
	raws []jobs.Raw
	err  error
}

func (s *stubSources) ScrapeAll(context.Context) ([]jobs.Raw, error) { return s.raws, s.err }

type score struct {
	semantic float64
	rating   int
}

// stubScorer scores by title.
type stubScorer map[string]score

func (s stubScorer) ScoreBatch(_ context.Context, batch []normalize.Normalized) ([]*jobs.Job, error) {
	out := make([]*jobs.Job, 0, len(batch))
	for _, n := range batch {
		j := n.Job.Copy()
		if sc, ok := s[j.Title]; ok {
			sem, rating := sc.semantic, sc.rating
			j.SemanticScore = &sem
			j.CompanyRating = &rating
		}
		out = append(out, j)
	}
	return out, nil
}

type stubNotifier struct {
	delivered int
	err       error
	got       []*jobs.Job
}

func (n *stubNotifier) Send(_ context.Context, batch []*jobs.Job) (int, error) {
	n.got = append(n.got, batch...)
	if n.err != nil {
		return min(n.delivered, len(batch)), n.err
	}
	return len(batch), nil
}

type stubCleaner struct{ runs int }

func (c *stubCleaner) Run(context.Context) (cleanup.Result, error) {
	c.runs++
	return cleanup.Result{Jobs: 1}, nil
}

func raw(id, title, salary string) jobs.Raw {
	r := jobs.Raw{
		jobs.RawPlatform: "Adzuna",
		jobs.RawID:       id,
		jobs.RawTitle:    title,
		jobs.RawCompany:  "Acme",
	}
	if salary != "" {
		r[jobs.RawSalary] = salary
	}
	return r
}

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPipeline(t *testing.T, src *stubSources, n *stubNotifier, c Cleaner, log *zap.Logger) (*Pipeline, *store.SQLite) {
	t.Helper()
	st := openStore(t)
	scorer := stubScorer{
		"Barista": {0.9, 8},
		"Cook":    {0.75, 6},
		"Porter":  {0.5, 9},
		"Cashier": {0.95, 9},
	}
	p := New(Deps{
		Sources:    src,
		Normalizer: normalize.New(normalize.Config{}, log),
		Scorer:     scorer,
		Store:      st,
		Notifier:   n,
		Cleaner:    c,
	}, Config{BatchSize: 10}, log)
	return p, st
}

func TestScrapeStoresRankedJobsOnce(t *testing.T) {
	ctx := context.Background()
	src := &stubSources{raws: []jobs.Raw{
		raw("1", "Cook", ""),
		raw("2", "Barista", "£12 per hour"),
		raw("3", "Porter", ""),
		raw("4", "Cashier", "£5,000 per year"),
		{jobs.RawTitle: "No identity"},
	}}
	p, st := newPipeline(t, src, &stubNotifier{}, nil, zap.NewNop())

	report, err := p.Scrape(ctx)
	require.NoError(t, err)
	require.Equal(t, ScrapeReport{Scraped: 5, Normalized: 4, Ranked: 2, Inserted: 2}, report)

	unsent, err := st.FetchUnsent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unsent, 2)
	require.Equal(t, "adzuna:2", unsent[0].ID())
	require.Equal(t, "adzuna:1", unsent[1].ID())
	require.NotNil(t, unsent[0].Rank)
	require.Equal(t, 1, *unsent[0].Rank)
	require.NotNil(t, unsent[0].Salary)
	require.InDelta(t, 24960.0, *unsent[0].Salary, 0.001)

	report, err = p.Scrape(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Inserted)
	require.Equal(t, 2, report.Duplicates)
}

func TestScrapeSourceCancelled(t *testing.T) {
	p, _ := newPipeline(t, &stubSources{err: context.Canceled}, &stubNotifier{}, nil, zap.NewNop())
	_, err := p.Scrape(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendMarksOnlyDeliveredJobs(t *testing.T) {
	ctx := context.Background()
	src := &stubSources{raws: []jobs.Raw{raw("1", "Cook", ""), raw("2", "Barista", "")}}
	n := &stubNotifier{delivered: 1, err: errors.New("broker gone")}
	c := &stubCleaner{}
	p, st := newPipeline(t, src, n, c, zap.NewNop())

	_, err := p.Scrape(ctx)
	require.NoError(t, err)

	report, err := p.Send(ctx)
	require.Error(t, err)
	require.Equal(t, 2, report.Fetched)
	require.Equal(t, 1, report.Delivered)
	require.Equal(t, 1, report.Marked)
	require.Equal(t, 1, c.runs)

	sent, err := st.Get(ctx, "adzuna:2")
	require.NoError(t, err)
	require.Equal(t, jobs.StateSent, sent.State)

	left, err := st.FetchUnsent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "adzuna:1", left[0].ID())

	n.err = nil
	report, err = p.Send(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Marked)
	require.Equal(t, 2, c.runs)
}

func TestSendWithNothingToSend(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := &stubNotifier{}
	c := &stubCleaner{}
	p, _ := newPipeline(t, &stubSources{}, n, c, zap.New(core))

	report, err := p.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Fetched)
	require.Empty(t, n.got)
	require.Equal(t, 1, c.runs, "cleanup runs even without jobs")

	entries := logs.FilterMessage("no jobs to send").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, 0, entries[0].ContextMap()["count"])
}

func TestHandleDecision(t *testing.T) {
	ctx := context.Background()
	src := &stubSources{raws: []jobs.Raw{raw("1", "Cook", "")}}
	p, st := newPipeline(t, src, &stubNotifier{}, nil, zap.NewNop())

	_, err := p.Scrape(ctx)
	require.NoError(t, err)
	_, err = p.Send(ctx)
	require.NoError(t, err)

	require.NoError(t, p.HandleDecision(ctx, "adzuna:1", true, "42"))
	j, err := st.Get(ctx, "adzuna:1")
	require.NoError(t, err)
	require.Equal(t, jobs.StateAccepted, j.State)
	require.NotNil(t, j.DecidedAt)

	err = p.HandleDecision(ctx, "adzuna:404", false, "42")
	require.ErrorIs(t, err, store.ErrNotFound)
}
