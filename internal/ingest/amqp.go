package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/metrics"
)

// AMQPOptions configures the AMQP job consumer.
type AMQPOptions struct {
	URL            string
	Queue          string
	Jobs           Enqueuer
	Defaults       Defaults
	ReconnectDelay time.Duration // default 5s
	Log            zerolog.Logger
}

// AMQPConsumer reads job requests from a durable queue. A message is acked
// once its job is queued, dead-lettered when it can never become a job and
// requeued when the job queue is full.
type AMQPConsumer struct {
	opts AMQPOptions
	log  zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	connected atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionReject
	actionRequeue
)

func NewAMQPConsumer(opts AMQPOptions) *AMQPConsumer {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &AMQPConsumer{
		opts: opts,
		log:  opts.Log.With().Str("component", "amqp").Logger(),
		done: make(chan struct{}),
	}
}

// Start connects and begins consuming. The first connection must succeed;
// later drops are retried in the background.
func (c *AMQPConsumer) Start() error {
	deliveries, closed, err := c.connect()
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go c.run(deliveries, closed)
	c.log.Info().Str("queue", c.opts.Queue).Msg("amqp consumer started")
	return nil
}

func (c *AMQPConsumer) connect() (<-chan amqp.Delivery, chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	c.connected.Store(true)
	return deliveries, closed, nil
}

func (c *AMQPConsumer) run(deliveries <-chan amqp.Delivery, closed chan *amqp.Error) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return

		case d, ok := <-deliveries:
			if !ok {
				deliveries = nil
				continue
			}
			c.handleDelivery(d)

		case err := <-closed:
			c.connected.Store(false)
			if err != nil {
				c.log.Warn().Err(err).Msg("amqp connection lost, reconnecting")
			}
			var ok bool
			deliveries, closed, ok = c.reconnect()
			if !ok {
				return
			}
		}
	}
}

func (c *AMQPConsumer) reconnect() (<-chan amqp.Delivery, chan *amqp.Error, bool) {
	for {
		select {
		case <-c.done:
			return nil, nil, false
		case <-time.After(c.opts.ReconnectDelay):
		}
		deliveries, closed, err := c.connect()
		if err == nil {
			c.log.Info().Msg("amqp reconnected")
			return deliveries, closed, true
		}
		c.log.Warn().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("amqp reconnect failed")
	}
}

func (c *AMQPConsumer) handleDelivery(d amqp.Delivery) {
	var err error
	switch c.decide(d.Body) {
	case actionAck:
		err = d.Ack(false)
	case actionReject:
		err = d.Nack(false, false)
	case actionRequeue:
		// Back off so a full queue does not spin on redelivery.
		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		err = d.Nack(false, true)
	}
	if err != nil {
		c.log.Warn().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("amqp acknowledgement failed")
	}
}

// decide queues the job in body and reports what to do with the delivery.
func (c *AMQPConsumer) decide(body []byte) deliveryAction {
	req, err := DecodeRequest(body, c.opts.Defaults)
	if err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("amqp", "rejected").Inc()
		c.log.Warn().Err(err).Msg("dropping invalid job request")
		return actionReject
	}
	id, ok := submit(c.opts.Jobs, req, "amqp")
	if !ok {
		c.log.Warn().Str("input", req.InputPath).Msg("job queue full, requeueing amqp request")
		return actionRequeue
	}
	c.log.Info().Str("job_id", id).Str("input", req.InputPath).Msg("amqp request queued")
	return actionAck
}

// IsConnected reports whether the broker connection is up.
func (c *AMQPConsumer) IsConnected() bool {
	return c.connected.Load()
}

// Stop ends consumption and closes the connection.
func (c *AMQPConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.ch != nil {
			c.ch.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()
		c.connected.Store(false)
		c.log.Info().Msg("amqp consumer stopped")
	})
}

// AMQPProducer publishes job requests onto a queue.
type AMQPProducer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// ErrNotConfirmed is returned when the broker nacks a published request.
var ErrNotConfirmed = errors.New("amqp publish not confirmed")

func NewAMQPProducer(url string) (*AMQPProducer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPProducer{conn: conn, ch: ch}, nil
}

// Publish declares queue and sends body as a persistent JSON message,
// waiting for the broker's confirmation.
func (p *AMQPProducer) Publish(ctx context.Context, queue string, body []byte) error {
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

func (p *AMQPProducer) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
