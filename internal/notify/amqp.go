package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes events to a durable RabbitMQ queue, opening a connection per publish.
type AMQPNotifier struct {
	url    string
	queue  string
	logger *slog.Logger
	dial   func(url string) (amqpConnection, error)
}

// amqpConnection and amqpChannel narrow the client to what the notifier uses.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connAdapter struct{ *amqp.Connection }

func (c connAdapter) Channel() (amqpChannel, error) { return c.Connection.Channel() }

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

func NewAMQPNotifier(url, queue string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		url:    url,
		queue:  queue,
		logger: logger,
		dial:   dialAMQP,
	}
}

func (n *AMQPNotifier) PasswordResetRequested(ctx context.Context, event PasswordResetEvent) error {
	l := n.logger.With(slog.String("method", "PasswordResetRequested"), slog.String("queue", n.queue))

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal password reset event: %w", err)
	}

	conn, err := n.dial(n.url)
	if err != nil {
		l.ErrorContext(ctx, "rabbitmq dial failed", slog.Any("error", err))
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	l.DebugContext(ctx, "Password reset event published", slog.String("userID", event.UserID))
	return nil
}
