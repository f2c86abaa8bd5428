package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"feedwatch/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// ClassifiedPostMessage is the body published for every post whose language
// is in the target set.
type ClassifiedPostMessage struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Language     string    `json:"language"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Body         string    `json:"body,omitempty"`
	Score        int       `json:"score"`
	CommentCount int       `json:"comment_count"`
	MediaURL     *string   `json:"media_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewClassifiedPostMessage(rec *domain.ClassifiedRecord) ClassifiedPostMessage {
	return ClassifiedPostMessage{
		ID:           rec.ID,
		Source:       rec.SourceID,
		Language:     rec.Language,
		Title:        rec.Title,
		Author:       rec.Author,
		Body:         rec.Body,
		Score:        rec.Score,
		CommentCount: rec.CommentCount,
		MediaURL:     rec.MediaURL,
		CreatedAt:    rec.CreatedAt,
		Timestamp:    time.Now().UTC(),
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, rec *domain.ClassifiedRecord) error {
	body, err := json.Marshal(NewClassifiedPostMessage(rec))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         rec.Language,
			MessageId:    rec.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published classified post",
		"id", rec.ID,
		"source", rec.SourceID,
		"language", rec.Language,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
