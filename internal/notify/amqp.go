package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPConfig configures the event publisher.
type AMQPConfig struct {
	URL        string
	Exchange   string
	MaxRetries uint
	Timeout    time.Duration
}

// AMQP publishes events as JSON to a durable fanout exchange.
type AMQP struct {
	config AMQPConfig
	logger zerolog.Logger

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	conn *amqp.Connection
	ch   *amqp.Channel
}

// dial is swapped in tests.
var dial = amqp.Dial

// DialAMQP connects with exponential backoff and declares the exchange.
func DialAMQP(ctx context.Context, config AMQPConfig) (*AMQP, error) {
	if config.Exchange == "" {
		config.Exchange = "segscribe.events"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	logger := zerolog.Ctx(ctx).With().Str("component", "amqp").Logger()
	p := &AMQP{
		config: config,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	logger.Info().Str("exchange", config.Exchange).Msg("connected to broker")

	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *AMQP) connect(ctx context.Context) error {
	operation := func() (*amqp.Connection, error) {
		conn, err := dial(p.config.URL)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to connect to broker, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(p.config.MaxRetries))
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.config.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn, p.ch = conn, ch
	return nil
}

// HandleEvent queues evt for publishing and never blocks; events are dropped
// when the buffer is full.
func (p *AMQP) HandleEvent(evt Event) {
	select {
	case p.events <- evt:
	default:
		p.logger.Warn().Str("segment", evt.SegmentID).Msg("publish buffer full, event dropped")
	}
}

func (p *AMQP) run() {
	defer p.wg.Done()
	for {
		select {
		case evt := <-p.events:
			p.publish(evt)
		case <-p.done:
			return
		}
	}
}

func (p *AMQP) publish(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.reconnect(ctx); err != nil {
			p.logger.Error().Err(err).Str("segment", evt.SegmentID).Msg("broker unavailable, event dropped")
			return
		}
	}

	err = p.ch.PublishWithContext(ctx, p.config.Exchange, string(evt.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.At,
		Body:         body,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("segment", evt.SegmentID).Msg("failed to publish event")
	}
}

func (p *AMQP) reconnect(ctx context.Context) error {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return p.connect(ctx)
}

// Close stops the publisher goroutine and closes the connection.
func (p *AMQP) Close() error {
	close(p.done)
	p.wg.Wait()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.conn, p.ch = nil, nil
	return errors.Join(errs...)
}
