package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultPublishTimeout bounds one publish, connection handshake included.
const DefaultPublishTimeout = 2 * time.Second

// Publisher sends scan events to RabbitMQ.  Each publish opens its own
// connection, so a broker outage only affects the events sent during it.
type Publisher struct {
	URL     string
	Queue   string
	Timeout time.Duration
}

// NewPublisher returns a Publisher for the scan queue at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, Queue: ScanQueueName, Timeout: DefaultPublishTimeout}
}

// WithTimeout overrides DefaultPublishTimeout; non-positive values are ignored.
func (p *Publisher) WithTimeout(d time.Duration) *Publisher {
	if d > 0 {
		p.Timeout = d
	}
	return p
}

// PublishScan publishes ev as a persistent JSON message on the default
// exchange, routed to the scan queue.  It gives up after p.Timeout or when
// ctx ends, whichever comes first, even if the broker accepts the TCP
// connection and then stalls.
func (p *Publisher) PublishScan(ctx context.Context, ev ScanEvent) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("rabbitmq dial: %w", context.DeadlineExceeded)
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(remaining),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.CloseDeadline(deadline) }()
	// Channel operations have no deadline of their own; dropping the
	// connection when ctx ends unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = conn.CloseDeadline(time.Now()) })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal scan event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.AttendanceID + ":" + ev.Mode,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.Queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
