package scoring

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobbot/internal/ai"
	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/normalize"
)

type stubClassifier struct {
	mu      sync.Mutex
	labels  map[string]ai.Sentiment
	lengths []int
}

func (s *stubClassifier) Classify(_ context.Context, text string) (ai.Sentiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lengths = append(s.lengths, utf8.RuneCountInString(text))
	if label, ok := s.labels[text]; ok {
		return label, nil
	}
	return "", errors.New("model unavailable")
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
	vecs  map[string][]float32
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return nil, errors.New("embedding service down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := c.vecs[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestReputationNoReviews(t *testing.T) {
	r := NewReputationScorer(&stubClassifier{}, 0, zap.NewNop())

	rating, summary := r.Rate(context.Background(), nil)
	if rating != 5 || summary != NoReviewsSummary {
		t.Fatalf("expected neutral default, got %d %q", rating, summary)
	}
}

func TestReputationNoValidReviews(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewReputationScorer(&stubClassifier{}, 0, zap.New(core))

	rating, summary := r.Rate(context.Background(), []string{"unknown one", "unknown two"})
	if rating != 5 || summary != NoValidReviewsSummary {
		t.Fatalf("expected neutral default, got %d %q", rating, summary)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected a warning per failed review, got %d", logs.Len())
	}
}

func TestReputationRatingAndBands(t *testing.T) {
	labels := map[string]ai.Sentiment{"p": ai.Positive, "n": ai.Negative}

	cases := []struct {
		name    string
		reviews []string
		rating  int
		band    string
	}{
		{name: "all positive", reviews: []string{"p", "p", "p"}, rating: 10, band: "Strongly positive"},
		{name: "four of five", reviews: []string{"p", "p", "p", "p", "n"}, rating: 8, band: "Strongly positive"},
		{name: "half rounds to five", reviews: []string{"p", "n"}, rating: 5, band: "Mixed"},
		{name: "two of three", reviews: []string{"p", "p", "n"}, rating: 7, band: "Mixed"},
		{name: "one of three", reviews: []string{"p", "n", "n"}, rating: 3, band: "Mostly negative"},
		{name: "all negative clamps to one", reviews: []string{"n", "n"}, rating: 1, band: "Mostly negative"},
		{name: "failures excluded", reviews: []string{"p", "broken", "p", "n"}, rating: 7, band: "Mixed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReputationScorer(&stubClassifier{labels: labels}, 0, zap.NewNop())
			rating, summary := r.Rate(context.Background(), tc.reviews)
			if rating != tc.rating {
				t.Fatalf("expected rating %d, got %d", tc.rating, rating)
			}
			if !strings.Contains(summary, tc.band) {
				t.Fatalf("unexpected summary %q", summary)
			}
		})
	}
}

func TestReputationSummaryPrefix(t *testing.T) {
	r := NewReputationScorer(&stubClassifier{labels: map[string]ai.Sentiment{"p": ai.Positive, "n": ai.Negative}}, 0, zap.NewNop())

	_, summary := r.Rate(context.Background(), []string{"p", "p", "p", "p", "n"})
	if want := "8/10 rating from 5 reviews. Strongly positive feedback overall."; summary != want {
		t.Fatalf("expected %q, got %q", want, summary)
	}
}

func TestReputationTruncatesReviews(t *testing.T) {
	stub := &stubClassifier{}
	r := NewReputationScorer(stub, 0, zap.NewNop())

	r.Rate(context.Background(), []string{strings.Repeat("é", 2000)})
	if len(stub.lengths) != 1 || stub.lengths[0] != 512 {
		t.Fatalf("expected review truncated to 512 runes, got %v", stub.lengths)
	}
}

func TestSemanticScore(t *testing.T) {
	emb := &countingEmbedder{vecs: map[string][]float32{
		"profile":                     {1, 0, 0},
		"Go Engineer. Build services": {1, 0, 0},
		"Chef. Cook tasty meals":      {0, 1, 0},
		"Opposite. Negative vector!!": {-1, 0, 0},
	}}
	s := NewSemanticScorer(emb, "profile", 0, zap.NewNop())
	ctx := context.Background()

	if got := s.Score(ctx, "Go Engineer", "Build services"); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := s.Score(ctx, "Chef", "Cook tasty meals"); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := s.Score(ctx, "Opposite", "Negative vector!!"); got != 0 {
		t.Fatalf("expected negative similarity clamped to 0, got %v", got)
	}

	calls := emb.calls
	if got := s.Score(ctx, "Go Engineer", "Build services"); got != 1 {
		t.Fatalf("expected memoised 1, got %v", got)
	}
	if emb.calls != calls {
		t.Fatalf("expected memoised score, embedder called %d more times", emb.calls-calls)
	}
	// one profile embedding plus one per distinct job text
	if emb.calls != 4 {
		t.Fatalf("expected 4 embed calls, got %d", emb.calls)
	}
}

func TestSemanticScoreCacheIsBounded(t *testing.T) {
	emb := &countingEmbedder{}
	s := NewSemanticScorer(emb, "profile", 0, zap.NewNop())
	s.memoLimit = 2
	ctx := context.Background()

	for _, title := range []string{"Barista wanted", "Kitchen porter", "Delivery driver", "Shop assistant"} {
		s.Score(ctx, title, "Evenings and weekends")
		if len(s.memo) > 2 {
			t.Fatalf("cache grew past its limit: %d entries", len(s.memo))
		}
	}

	calls := emb.calls
	s.Score(ctx, "Shop assistant", "Evenings and weekends")
	if emb.calls != calls {
		t.Fatal("the latest score must still be cached")
	}
}

func TestSemanticScoreFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	emb := &countingEmbedder{fail: true}
	s := NewSemanticScorer(emb, "profile", 0, zap.New(core))

	if got := s.Score(context.Background(), "Go Engineer", "Build reliable services"); got != 0 {
		t.Fatalf("expected 0 on failure, got %v", got)
	}
	if logs.FilterMessage("semantic scoring failed").Len() != 1 {
		t.Fatal("expected failure to be logged")
	}

	if got := s.Score(context.Background(), "Go", ""); got != 0 {
		t.Fatalf("expected 0 for short text, got %v", got)
	}
	if emb.calls != 1 {
		t.Fatalf("short text must not reach the embedder, got %d calls", emb.calls)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 1}, []float32{1, 1}); got < 0.9999 {
		t.Fatalf("expected ~1, got %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0 for zero vector, got %v", got)
	}
}

func TestKeywordClassifier(t *testing.T) {
	cases := []struct {
		text string
		want ai.Sentiment
		err  bool
	}{
		{text: "Great team, friendly managers and good balance", want: ai.Positive},
		{text: "Toxic culture and terrible pay", want: ai.Negative},
		{text: "The pay is not good", want: ai.Negative},
		{text: "Never boring", want: ai.Positive},
		{text: "We build software", err: true},
	}

	for _, tc := range cases {
		got, err := KeywordClassifier{}.Classify(context.Background(), tc.text)
		if tc.err {
			if !errors.Is(err, ai.ErrUnknownSentiment) {
				t.Fatalf("%q: expected ErrUnknownSentiment, got %v", tc.text, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %q, got %q (%v)", tc.text, tc.want, got, err)
		}
	}
}

func TestHashingEmbedderIsDeterministic(t *testing.T) {
	h := HashingEmbedder{Dimensions: 64}
	ctx := context.Background()

	a, _ := h.Embed(ctx, []string{"Senior Go engineer with Kubernetes"})
	b, _ := h.Embed(ctx, []string{"Senior Go engineer with Kubernetes"})
	if Cosine(a[0], b[0]) < 0.9999 {
		t.Fatal("identical texts must embed identically")
	}

	related, _ := h.Embed(ctx, []string{"Go engineer, Kubernetes platform"})
	unrelated, _ := h.Embed(ctx, []string{"pastry chef bakery"})
	if Cosine(a[0], related[0]) <= Cosine(a[0], unrelated[0]) {
		t.Fatal("expected overlapping texts to be more similar")
	}
}

func TestEngineScoreBatch(t *testing.T) {
	emb := &countingEmbedder{vecs: map[string][]float32{
		"profile":               {1, 0, 0},
		"Go Engineer. Services": {1, 0, 0},
	}}
	classifier := &stubClassifier{labels: map[string]ai.Sentiment{"good": ai.Positive}}
	engine := NewEngine(Config{Profile: "profile", Concurrency: 2}, emb, classifier, zap.NewNop())
	defer engine.Close()

	batch := []normalize.Normalized{
		{Job: &jobs.Job{Platform: "p", ExternalID: "1", Title: "Go Engineer", Description: "Services"}, Reviews: []string{"good"}},
		{Job: &jobs.Job{Platform: "p", ExternalID: "2", Title: "Other role entirely", Description: "Elsewhere"}},
		{Job: &jobs.Job{Platform: "p", ExternalID: "3", Title: "x"}},
	}

	scored, err := engine.ScoreBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(scored))
	}
	for i, job := range scored {
		if job.ExternalID != batch[i].Job.ExternalID {
			t.Fatalf("order not preserved at %d", i)
		}
		if job.SemanticScore == nil || job.CompanyRating == nil {
			t.Fatalf("job %d not scored", i)
		}
	}
	if scored[0].Semantic() != 1 || scored[0].Rating() != 10 {
		t.Fatalf("unexpected scores for first job: %v %v", scored[0].Semantic(), scored[0].Rating())
	}
	if scored[1].Rating() != 5 || scored[1].CompanyRatingSummary != NoReviewsSummary {
		t.Fatalf("expected neutral rating without reviews, got %d %q", scored[1].Rating(), scored[1].CompanyRatingSummary)
	}
	if batch[0].Job.SemanticScore != nil {
		t.Fatal("input job must not be modified")
	}
}

func TestEngineScoreBatchCancelled(t *testing.T) {
	engine := NewEngine(Config{Profile: "profile"}, &countingEmbedder{}, &stubClassifier{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.ScoreBatch(ctx, []normalize.Normalized{{Job: &jobs.Job{Title: "a"}}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
