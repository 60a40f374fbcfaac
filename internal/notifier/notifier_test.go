package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobbot/internal/jobs"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	failAfter  int
	deliveries chan amqp.Delivery
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.published) >= f.failAfter {
		return errors.New("channel closed")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(_, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeAck struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	reject int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject++
	return nil
}

func testJob(id string) *jobs.Job {
	score := 0.9
	return &jobs.Job{Platform: "adzuna", ExternalID: id, Title: "Barista " + id, SemanticScore: &score}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		want     jobs.Decision
		wantFail bool
	}{
		{name: "json accept", body: `{"job_id":"adzuna:1","accepted":true,"actor_id":"42"}`, want: jobs.Decision{JobID: "adzuna:1", Accepted: true, ActorID: "42"}},
		{name: "short accept keeps colons in id", body: "accept:indeed:abc:1", want: jobs.Decision{JobID: "indeed:abc:1", Accepted: true}},
		{name: "short decline", body: " DECLINE:adzuna:7 ", want: jobs.Decision{JobID: "adzuna:7"}},
		{name: "empty", body: "", wantFail: true},
		{name: "unknown action", body: "maybe:adzuna:1", wantFail: true},
		{name: "no id", body: "accept:", wantFail: true},
		{name: "json without id", body: `{"accepted":true}`, wantFail: true},
		{name: "broken json", body: `{"job_id":`, wantFail: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDecision([]byte(tc.body))
			if tc.wantFail {
				if !errors.Is(err, ErrMalformedDecision) {
					t.Fatalf("expected ErrMalformedDecision, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	salary := 22880.0
	score := 0.81
	j := &jobs.Job{
		Title:                "Barista",
		Company:              "Beans",
		Salary:               &salary,
		SemanticScore:        &score,
		CompanyRatingSummary: "8/10 rating from 5 reviews.",
		URL:                  "https://example.com/1",
	}

	got := Format(j)
	for _, want := range []string{"Barista", "Company: Beans", "Salary: £22880 a year", "Match: 81%", "Reputation: 8/10", "https://example.com/1"} {
		if !strings.Contains(got, want) {
			t.Errorf("Format() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Location") {
		t.Errorf("empty location must be omitted:\n%s", got)
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	sent, err := n.Send(context.Background(), []*jobs.Job{testJob("1"), testJob("2")})
	if err != nil || sent != 2 {
		t.Fatalf("Send() = %d, %v", sent, err)
	}
	if logs.FilterMessage("job ready for review").Len() != 2 {
		t.Fatalf("expected two log entries, got %v", logs.All())
	}
}

func TestAMQPSendStopsAtFirstFailure(t *testing.T) {
	ch := &fakeChannel{failAfter: 2}
	n, err := newAMQPNotifier(ch, AMQPConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("newAMQPNotifier: %v", err)
	}
	if len(ch.declared) != 2 || ch.declared[0] != defaultJobsQueue || ch.declared[1] != defaultDecisionsQueue {
		t.Fatalf("unexpected declared queues: %v", ch.declared)
	}

	sent, err := n.Send(context.Background(), []*jobs.Job{testJob("1"), testJob("2"), testJob("3")})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if sent != 2 {
		t.Fatalf("expected 2 delivered, got %d", sent)
	}

	msg := ch.published[0]
	if msg.MessageId != "adzuna:1" || msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	var decoded jobs.Job
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("body is not a job: %v", err)
	}
	if decoded.Title != "Barista 1" || decoded.Semantic() != 0.9 {
		t.Fatalf("unexpected body: %+v", decoded)
	}

	if err := n.Close(); err != nil || !ch.closed {
		t.Fatalf("Close() = %v, closed=%v", err, ch.closed)
	}
}

func TestAMQPConsumeDecisions(t *testing.T) {
	ack := &fakeAck{}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 3)}
	n, err := newAMQPNotifier(ch, AMQPConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("newAMQPNotifier: %v", err)
	}

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("accept:adzuna:1")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("garbage")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"job_id":"adzuna:2","accepted":false,"actor_id":"7"}`)}

	type call struct {
		id       string
		accepted bool
		actor    string
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(_ context.Context, id string, accepted bool, actor string) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{id, accepted, actor})
		if len(calls) == 2 {
			cancel()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- n.ConsumeDecisions(ctx, handler) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConsumeDecisions: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []call{{"adzuna:1", true, ""}, {"adzuna:2", false, "7"}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if ack.nacks != 1 {
		t.Fatalf("expected malformed message to be nacked, got %d", ack.nacks)
	}
	if ack.acks < 1 {
		t.Fatalf("expected acks, got %d", ack.acks)
	}
}

func TestAMQPConsumeStopsWhenBrokerClosesChannel(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	n, err := newAMQPNotifier(ch, AMQPConfig{DecisionsQueue: "answers"}, zap.NewNop())
	if err != nil {
		t.Fatalf("newAMQPNotifier: %v", err)
	}
	close(ch.deliveries)

	err = n.ConsumeDecisions(context.Background(), func(context.Context, string, bool, string) error { return nil })
	if err == nil {
		t.Fatal("expected error when the delivery channel closes")
	}
}
