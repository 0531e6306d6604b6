// Package notify announces stored messages to the external notification
// service. Events carry ids only, never ciphertext.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const RoutingKeyMessageSent = "message.sent"

type MessageSent struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageID      uuid.UUID   `json:"messageId"`
	SenderID       uuid.UUID   `json:"senderId"`
	RecipientIDs   []uuid.UUID `json:"recipientIds"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type Publisher interface {
	PublishMessageSent(ctx context.Context, ev MessageSent) error
}

type NopPublisher struct{}

func (NopPublisher) PublishMessageSent(context.Context, MessageSent) error { return nil }

// AMQPPublisher publishes to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "chat.events"
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
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishMessageSent(ctx context.Context, ev MessageSent) error {
	msg, err := publishing(ev)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyMessageSent, false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

func publishing(ev MessageSent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.MessageID.String(),
		Timestamp:    ev.CreatedAt,
		Type:         RoutingKeyMessageSent,
		Body:         body,
	}, nil
}
