package sink

import (
	"chat-relay/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RosterMessage is the body published on every presence change.
type RosterMessage struct {
	Online []string  `json:"online"`
	At     time.Time `json:"at"`
}

/*
AMQPRosterPublisher mirrors presence snapshots to a RabbitMQ fanout exchange so
other services can follow who is online. A single connection and channel are
shared by every publish; amqp091 channels are not safe for concurrent
publishing, hence the mutex.
*/
type AMQPRosterPublisher struct {
	log      *slog.Logger
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	mu       sync.Mutex
}

func NewAMQPRosterPublisher(log *slog.Logger, url, exchange string) (*AMQPRosterPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("cannot open a RabbitMQ channel: %w", err)
	}
	if err = ch.ExchangeDeclare(exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("cannot declare exchange %q: %w", exchange, err)
	}
	log.Info("Roster mirror connected", "exchange", exchange)
	return &AMQPRosterPublisher{log: log, conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPRosterPublisher) PublishRoster(ctx context.Context, roster domain.Roster) error {
	publishing, err := NewRosterPublishing(roster, time.Now().UTC())
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, "", false, false, publishing)
}

func (p *AMQPRosterPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.channel.Close()
	return p.conn.Close()
}

// NewRosterPublishing builds the AMQP message for one snapshot.
func NewRosterPublishing(roster domain.Roster, at time.Time) (amqp091.Publishing, error) {
	body, err := json.Marshal(RosterMessage{Online: roster.Strings(), At: at})
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		Timestamp:    at,
		Type:         "presence.roster",
		Body:         body,
	}, nil
}
