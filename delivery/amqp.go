package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue outbound codes are published to when none is
// configured.
const DefaultQueue = "portal.verification.codes"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// amqpMessage is the JSON body a mail/SMS worker consumes.
type amqpMessage struct {
	MessageID  string    `json:"message_id"`
	Identifier string    `json:"identifier"`
	Channel    Channel   `json:"channel"`
	Code       string    `json:"code"`
	Purpose    string    `json:"purpose,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AMQPSender publishes codes to a durable RabbitMQ queue for an external
// mail or SMS worker.
type AMQPSender struct {
	queue string

	mu   sync.Mutex // amqp channels are not safe for concurrent publishes
	pub  publisher
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to url, opens a channel and declares queue as durable.
func DialAMQP(url, queue string) (*AMQPSender, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}

	return &AMQPSender{queue: queue, pub: ch, conn: conn, ch: ch}, nil
}

func newAMQPSenderWithPublisher(pub publisher, queue string) *AMQPSender {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPSender{queue: queue, pub: pub}
}

func (s *AMQPSender) Deliver(ctx context.Context, msg Message) error {
	if s == nil || s.pub == nil {
		return errors.New("amqp sender not connected")
	}

	publishing, err := encodePublishing(msg, time.Now().UTC())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pub.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		publishing,
	); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection. It is safe to call on a
// sender built without a live connection.
func (s *AMQPSender) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
		s.ch = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	s.pub = nil
	return errors.Join(errs...)
}

func encodePublishing(msg Message, now time.Time) (amqp.Publishing, error) {
	id := uuid.NewString()
	body, err := json.Marshal(amqpMessage{
		MessageID:  id,
		Identifier: msg.Identifier,
		Channel:    msg.Channel,
		Code:       msg.Code,
		Purpose:    msg.Purpose,
		ExpiresAt:  msg.ExpiresAt.UTC(),
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode delivery message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    now,
		Type:         string(msg.Channel),
		Body:         body,
	}
	if !msg.ExpiresAt.IsZero() {
		if ttl := msg.ExpiresAt.Sub(now); ttl > 0 {
			// A code that reaches the worker after expiry is useless.
			pub.Expiration = fmt.Sprintf("%d", ttl.Milliseconds())
		}
	}
	return pub, nil
}
