package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"evsched/internal/domain"
	"evsched/internal/transport"
	logx "evsched/pkg/logx"
)

var ErrNacked = errors.New("amqp: publish not acknowledged")

// DefaultExchange receives scheduler messages when none is configured.
const DefaultExchange = "evsched.rule-engine"

// Publisher implements transport.Sink. Messages are routed by lowercase
// message type and published persistent with broker confirms.
type Publisher struct {
	conn     *Connection
	exchange string
	log      logx.Logger
}

var _ transport.Sink = (*Publisher)(nil)

func NewPublisher(conn *Connection, exchange string, log logx.Logger) *Publisher {
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{conn: conn, exchange: exchange, log: log}
}

// DeclareTopology declares the durable topic exchange.
func (p *Publisher) DeclareTopology(ctx context.Context) error {
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		return nil
	})
}

func (p *Publisher) Push(ctx context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *transport.Message, cb transport.Callback) {
	pub, err := publishing(tenantID, originator, msg)
	if err != nil {
		cb.Failure(msg, err)
		return
	}
	key := RoutingKey(msg.Type)

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, pub)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
		}
		if dc == nil {
			return nil
		}
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNacked
		}
		return nil
	})
	if err != nil {
		cb.Failure(msg, err)
		return
	}
	p.log.Debug("published message",
		logx.String("exchange", p.exchange),
		logx.String("routing_key", key),
		logx.String("message_id", msg.ID.String()),
	)
	cb.Success(msg)
}

// RoutingKey maps a message type to its routing key.
func RoutingKey(t domain.ActionType) string {
	if t == domain.ActionNone {
		return "unknown"
	}
	return strings.ToLower(string(t))
}

func publishing(tenantID uuid.UUID, originator domain.EntityID, msg *transport.Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	headers := amqp.Table{
		"tenantId":     tenantID.String(),
		"originatorId": originator.ID.String(),
		"entityType":   string(originator.Type),
	}
	if k := msg.Metadata[transport.MetaIdempotencyKey]; k != "" {
		headers["idempotencyKey"] = k
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    msg.Timestamp,
		Type:         string(msg.Type),
		Headers:      headers,
		Body:         body,
	}, nil
}
