package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// DefaultQueue is the queue nudges are published to when none is configured.
const DefaultQueue = "lightwork.process"

// Nudge is the body of a queue message. Consumers run a full cycle whatever
// the body says; JobID is informational.
type Nudge struct {
	JobID string    `json:"job_id,omitempty"`
	At    time.Time `json:"at"`
}

type amqpConn struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func dial(url, queue string) (*amqpConn, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return &amqpConn{conn: conn, ch: ch, queue: q.Name}, nil
}

func (c *amqpConn) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// Publisher nudges workers through the queue when a job gains claimable images.
type Publisher struct {
	mu sync.Mutex
	c  *amqpConn
}

func NewPublisher(url, queue string) (*Publisher, error) {
	c, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{c: c}, nil
}

// Publish sends a persistent nudge for jobID.
func (p *Publisher) Publish(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Nudge{JobID: jobID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	// Channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c.ch.Publish("", p.c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	return p.c.Close()
}

// AMQPTrigger runs one processing cycle per delivery.
type AMQPTrigger struct {
	c      *amqpConn
	run    Func
	logger zerolog.Logger
}

func NewAMQPTrigger(url, queue string, run Func, logger zerolog.Logger) (*AMQPTrigger, error) {
	c, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// One unacked delivery at a time; cycles already run a bounded pool.
	if err := c.ch.Qos(1, 0, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &AMQPTrigger{c: c, run: run, logger: logger.With().Str("trigger", "amqp").Logger()}, nil
}

// Start consumes until ctx is done or the broker closes the channel.
func (t *AMQPTrigger) Start(ctx context.Context) error {
	deliveries, err := t.c.ch.Consume(t.c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	t.logger.Info().Str("queue", t.c.queue).Msg("trigger: consuming")
	return consume(ctx, deliveries, t.run, t.logger)
}

func (t *AMQPTrigger) Close() error {
	return t.c.Close()
}

var errDeliveriesClosed = errors.New("amqp delivery channel closed")

func consume(ctx context.Context, deliveries <-chan amqp.Delivery, run Func, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			handle(ctx, d, run, logger)
		}
	}
}

// handle acks once the cycle ran. A cycle that could not reach its store is
// requeued once; a second failure drops the message since the ticker will
// pick the work up anyway.
func handle(ctx context.Context, d amqp.Delivery, run Func, logger zerolog.Logger) {
	var n Nudge
	if err := json.Unmarshal(d.Body, &n); err != nil && len(d.Body) > 0 {
		logger.Debug().Err(err).Msg("trigger: unreadable nudge body")
	}
	log := logger.With().Str("job_id", n.JobID).Uint64("delivery_tag", d.DeliveryTag).Logger()

	if err := run(ctx); err != nil {
		requeue := !d.Redelivered
		log.Error().Err(err).Bool("requeue", requeue).Msg("trigger: cycle failed")
		if nerr := d.Nack(false, requeue); nerr != nil {
			log.Error().Err(nerr).Msg("trigger: nack failed")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("trigger: ack failed")
	}
}
