//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"feedwatch/internal/domain"
	"feedwatch/testdata/utils"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func classifiedRecord(id, lang string) *domain.ClassifiedRecord {
	return &domain.ClassifiedRecord{
		Record: domain.Record{
			ID:           id,
			Title:        "Test Post",
			Author:       "tester",
			Score:        10,
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
			CommentCount: 3,
			SourceID:     "assam",
			Body:         "body",
		},
		Language: lang,
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishClassified() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-classified",
		RoutingKey: "test-routing-key-classified",
		QueueName:  "test-queue-classified",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	rec := classifiedRecord("abc123", "as")
	rec.MediaURL = utils.Ptr("https://i.redd.it/image.png")

	err = pub.Publish(s.ctx, rec)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal("abc123", msg.MessageId)
	s.Equal("as", msg.Type)

	var received ClassifiedPostMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("abc123", received.ID)
	s.Equal("assam", received.Source)
	s.Equal("as", received.Language)
	s.Equal(10, received.Score)
	s.Require().NotNil(received.MediaURL)
	s.Equal("https://i.redd.it/image.png", *received.MediaURL)
	s.True(rec.CreatedAt.Equal(received.CreatedAt))
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, classifiedRecord("persist1", "bn"))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishAfterClose() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-closed",
		RoutingKey: "test-routing-key-closed",
		QueueName:  "test-queue-closed",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	s.Require().NoError(pub.Close())

	err = pub.Publish(s.ctx, classifiedRecord("closed1", "bn"))
	s.Error(err)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}