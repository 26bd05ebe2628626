package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"livmore-rook-sync/internal/metrics"
)

const (
	prefetchCount     = 50
	maxReconnectDelay = 30 * time.Second
	dialTimeout       = 5 * time.Second
	publishTimeout    = 2 * time.Second
	redialInterval    = 5 * time.Second
	heartbeat         = 10 * time.Second
)

// ErrBrokerUnavailable is returned without waiting while the publisher is
// reconnecting or backing off after a failed dial
var ErrBrokerUnavailable = errors.New("broker unavailable")

func declareQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		QueueActivityUpdated,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}

// dial opens a broker connection. The TCP connect and the AMQP handshake
// share one deadline: dialTimeout, or ctx's deadline when that is sooner.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			deadline := time.Now().Add(dialTimeout)
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			dialCtx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by the client once the handshake completes
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// AMQPPublisher publishes events to RabbitMQ. The connection is opened on
// first use and reopened after a failure. Publish never waits on another
// caller's reconnect, and a failed dial is not retried for redialInterval.
type AMQPPublisher struct {
	url    string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	dialing  bool
	closed   bool
	nextDial time.Time
}

// NewAMQPPublisher creates a publisher for the broker at url
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{
		url:    url,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// channel returns the open channel, connecting when there is none
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: publisher closed", ErrBrokerUnavailable)
	}
	if p.dialing {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: reconnect in progress", ErrBrokerUnavailable)
	}
	if now := p.now(); now.Before(p.nextDial) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: next attempt in %s", ErrBrokerUnavailable, p.nextDial.Sub(now).Round(time.Millisecond))
	}
	p.closeLocked()
	p.dialing = true
	p.mu.Unlock()

	conn, ch, err := p.open(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.nextDial = p.now().Add(redialInterval)
		p.logger.Warn("Failed to connect to broker", "error", err, "retry_after", redialInterval)
		return nil, err
	}
	if p.closed {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: publisher closed", ErrBrokerUnavailable)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) open(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := dial(ctx, p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return conn, ch, nil
}

// Publish sends ev as a persistent message. It gives up after
// publishTimeout even when ctx has no deadline.
func (p *AMQPPublisher) Publish(ctx context.Context, ev ActivityUpdated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := p.channel(ctx)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(metrics.TransportAMQP, metrics.ResultFailure).Inc()
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",                   // default exchange
		QueueActivityUpdated, // routing key = queue name
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(metrics.TransportAMQP, metrics.ResultFailure).Inc()
		p.mu.Lock()
		if p.ch == ch {
			p.closeLocked()
		}
		p.mu.Unlock()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(metrics.TransportAMQP, metrics.ResultSuccess).Inc()
	return nil
}

// Close closes the broker connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeLocked()
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// AMQPSubscriber consumes events from RabbitMQ, reconnecting with backoff
// until ctx is done
type AMQPSubscriber struct {
	url    string
	logger *slog.Logger
}

// NewAMQPSubscriber creates a subscriber for the broker at url
func NewAMQPSubscriber(url string) *AMQPSubscriber {
	return &AMQPSubscriber{
		url:    url,
		logger: slog.Default(),
	}
}

func (s *AMQPSubscriber) Run(ctx context.Context, handle Handler) error {
	backoff := time.Second
	for {
		conn, err := dial(ctx, s.url)
		if err != nil {
			s.logger.Warn("Failed to dial broker", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReconnectDelay)
			continue
		}
		backoff = time.Second

		err = s.consume(ctx, conn, handle)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Consume loop ended, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *AMQPSubscriber) consume(ctx context.Context, conn *amqp.Connection, handle Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		s.logger.Warn("Failed to set QoS", "error", err)
	}
	if err := declareQueue(ch); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(QueueActivityUpdated, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			s.dispatch(ctx, d, handle)
		}
	}
}

// dispatch decodes one delivery and acks it once handle succeeds.
// Malformed bodies and handler failures are rejected without requeue to
// avoid tight redelivery loops.
func (s *AMQPSubscriber) dispatch(ctx context.Context, d amqp.Delivery, handle Handler) {
	var ev ActivityUpdated
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		s.logger.Warn("Discarding malformed event", "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := handle(ctx, ev); err != nil {
		s.logger.Warn("Event handler failed", "event_id", ev.ID, "user_id", ev.UserID, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
