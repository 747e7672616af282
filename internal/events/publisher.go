package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
	log      *zap.SugaredLogger
}

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *zap.SugaredLogger
}

const maxDelay = 60 * time.Second

// DialWithRetry connects to RabbitMQ with exponential backoff, giving up
// when ctx is done.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	var lastErr error

	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				cfg.Logger.Infow("rabbit connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDelay {
			sleep = maxDelay
		}
		cfg.Logger.Warnw("rabbit dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

// New dials url and declares exchange as a durable topic exchange.
func New(ctx context.Context, url, exchange string, logger *zap.SugaredLogger) (Publisher, error) {
	conn, err := DialWithRetry(ctx, ConnectionOptions{URL: url, RetryAttempts: 5, Delay: time.Second, Logger: logger})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqClient{
		conn:     conn,
		exchange: exchange,
		log:      logger,
	}, nil
}

func (r *rmqClient) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Timestamp:     msg.Meta.Time,
			Body:          body,
		},
	)
	if err == nil {
		r.log.Debugw("published", "key", key, "exchange", r.exchange)
	}
	return err
}

func (r *rmqClient) Close() error {
	return r.conn.Close()
}
