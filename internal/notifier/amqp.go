package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

const (
	// AMQPURLSecret names the broker url in the secrets provider.
	AMQPURLSecret = "amqp-url"

	defaultJobsQueue      = "jobbot.jobs"
	defaultDecisionsQueue = "jobbot.decisions"
	defaultPublishTimeout = 5 * time.Second
)

type AMQPConfig struct {
	JobsQueue      string        `mapstructure:"jobs-queue"`
	DecisionsQueue string        `mapstructure:"decisions-queue"`
	PublishTimeout time.Duration `mapstructure:"publish-timeout"`
}

// channel is the subset of *amqp.Channel the notifier uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPNotifier publishes jobs as JSON to a durable queue and reads decisions
// from a second one.
type AMQPNotifier struct {
	conn   *amqp.Connection
	ch     channel
	cfg    AMQPConfig
	logger *zap.Logger
	once   sync.Once
}

// DialAMQP connects to the broker and declares both queues.
func DialAMQP(url string, cfg AMQPConfig, log *zap.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	n, err := newAMQPNotifier(ch, cfg, log)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch channel, cfg AMQPConfig, log *zap.Logger) (*AMQPNotifier, error) {
	if strings.TrimSpace(cfg.JobsQueue) == "" {
		cfg.JobsQueue = defaultJobsQueue
	}
	if strings.TrimSpace(cfg.DecisionsQueue) == "" {
		cfg.DecisionsQueue = defaultDecisionsQueue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	for _, name := range []string{cfg.JobsQueue, cfg.DecisionsQueue} {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			return nil, fmt.Errorf("declaring queue %q: %w", name, err)
		}
	}

	return &AMQPNotifier{
		ch:     ch,
		cfg:    cfg,
		logger: logger.Component(log, "amqp-notifier"),
	}, nil
}

// Send publishes jobs one by one and stops at the first failure.
func (n *AMQPNotifier) Send(ctx context.Context, batch []*jobs.Job) (int, error) {
	for i, j := range batch {
		body, err := json.Marshal(j)
		if err != nil {
			return i, fmt.Errorf("encoding job %s: %w", j.ID(), err)
		}

		pctx, cancel := context.WithTimeout(ctx, n.cfg.PublishTimeout)
		err = n.ch.PublishWithContext(
			pctx,
			"",              // default exchange
			n.cfg.JobsQueue, // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    j.ID(),
				Timestamp:    time.Now().UTC(),
				Body:         body,
			},
		)
		cancel()
		if err != nil {
			return i, fmt.Errorf("publishing job %s: %w", j.ID(), err)
		}
		n.logger.Debug("job published", zap.String(logger.FieldJobID, j.ID()))
	}
	return len(batch), nil
}

// ConsumeDecisions hands every decision message to handle until ctx is done
// or the broker closes the delivery channel. Malformed messages are dropped;
// handler failures are logged and the message is acknowledged so it is not
// redelivered forever.
func (n *AMQPNotifier) ConsumeDecisions(ctx context.Context, handle DecisionHandler) error {
	msgs, err := n.ch.Consume(
		n.cfg.DecisionsQueue,
		"",
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("registering decisions consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("decisions channel closed by broker")
			}
			n.handleDelivery(ctx, d, handle)
		}
	}
}

func (n *AMQPNotifier) handleDelivery(ctx context.Context, d amqp.Delivery, handle DecisionHandler) {
	decision, err := ParseDecision(d.Body)
	if err != nil {
		n.logger.Warn("dropping decision message", zap.Error(err))
		if err := d.Nack(false, false); err != nil {
			n.logger.Warn("nack failed", zap.Error(err))
		}
		return
	}

	log := n.logger.With(zap.String(logger.FieldJobID, decision.JobID), zap.Bool("accepted", decision.Accepted))
	if err := handle(ctx, decision.JobID, decision.Accepted, decision.ActorID); err != nil {
		log.Warn("recording decision failed", zap.Error(err))
	} else {
		log.Info("decision recorded")
	}

	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func (n *AMQPNotifier) Close() error {
	var err error
	n.once.Do(func() {
		err = n.ch.Close()
		if n.conn != nil {
			err = errors.Join(err, n.conn.Close())
		}
	})
	return err
}
