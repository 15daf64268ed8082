package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"colletta/internal/core"
	"colletta/internal/ledger"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures is how many consecutive publish failures open the circuit
	maxFailures = 5

	// openTimeout is how long the circuit stays open before a half-open probe
	openTimeout = 30 * time.Second

	// publishTimeout bounds a single publish call
	publishTimeout = 5 * time.Second

	maxBackoff = 30 * time.Second
)

// Client publishes campaign events and transfer instructions to a
// durable direct exchange and consumes the transfer queue. A circuit
// breaker sheds publishes while the broker is down so request handling
// never blocks on AMQP.
type Client struct {
	url           string
	exchangeName  string
	eventQueue    string
	transferQueue string

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	// Circuit breaker state
	failureCount int64
	state        int32
	lastFailure  time.Time

	reconnecting int32
}

var (
	_ ledger.EventPublisher     = (*Client)(nil)
	_ ledger.TransferDispatcher = (*Client)(nil)
)

func NewClient(url, exchangeName, eventQueue, transferQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		url:           url,
		exchangeName:  exchangeName,
		eventQueue:    eventQueue,
		transferQueue: transferQueue,
		conn:          conn,
		channel:       channel,
	}

	if err := client.setup(channel); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup(channel *amqp091.Channel) error {
	// Declare exchange
	err := channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.eventQueue, c.transferQueue} {
		_, err = channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key is the queue name on a direct exchange.
		err = channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// PublishEvent implements ledger.EventPublisher.
func (c *Client) PublishEvent(ctx context.Context, event ledger.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := c.publish(ctx, c.eventQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published campaign event",
		"kind", event.Kind,
		"campaign_id", event.CampaignID,
		"exchange", c.exchangeName,
		"queue", c.eventQueue)

	return nil
}

// DispatchTransfer implements ledger.TransferDispatcher. The message
// carries only the instruction id; the worker claims and loads the row
// from the database before executing.
func (c *Client) DispatchTransfer(ctx context.Context, transfer core.Transfer) error {
	msg := NewTransferMessage(transfer)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal transfer message: %w", err)
	}

	if err := c.publish(ctx, c.transferQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Dispatched transfer instruction",
		"transfer_id", transfer.ID,
		"campaign_id", transfer.CampaignID,
		"kind", transfer.Kind,
		"queue", c.transferQueue)

	return nil
}

// PublishCampaignEnded announces a campaign whose active window closed.
func (c *Client) PublishCampaignEnded(ctx context.Context, msg *CampaignEndedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal campaign ended message: %w", err)
	}

	if err := c.publish(ctx, c.eventQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published campaign ended notice",
		"campaign_id", msg.CampaignID,
		"goal_reached", msg.GoalReached,
		"queue", c.eventQueue)

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, dropping publish to %s", routingKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()
	if channel == nil {
		return fmt.Errorf("channel not open")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			go c.tryReconnect()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// tryReconnect runs at most one reconnect attempt at a time.
func (c *Client) tryReconnect() {
	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.reconnecting, 0)

	if err := c.reconnect(); err != nil {
		slog.Error("Background reconnect failed", "error", err)
	}
}

// ConsumeTransfers consumes the transfer queue until the context ends,
// reconnecting with backoff when the broker connection drops.
func (c *Client) ConsumeTransfers(ctx context.Context, handler func(*TransferMessage) error) error {
	attempt := 0
	for {
		err := c.consumeTransfersOnce(ctx, handler)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "Transfer consumer lost the broker, reconnecting",
			"delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.reconnect(); err != nil {
			slog.ErrorContext(ctx, "Reconnect failed", "error", err)
			continue
		}
		attempt = 0
	}
}

func (c *Client) consumeTransfersOnce(ctx context.Context, handler func(*TransferMessage) error) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()
	if channel == nil {
		return fmt.Errorf("channel not open")
	}

	msgs, err := channel.Consume(
		c.transferQueue, // queue
		"",              // consumer
		false,           // auto-ack (we want manual ack)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming transfer instructions", "queue", c.transferQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping transfer consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := TransferMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal transfer message", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle transfer message",
					"error", err,
					"transfer_id", msg.ID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false) // acknowledge successful processing
		}
	}
}

func (c *Client) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.recordSuccess()
	slog.Info("Reconnected to AMQP broker", "url", c.url)
	return nil
}

func (c *Client) isCircuitOpen() bool {
	state := atomic.LoadInt32(&c.state)
	if state != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)
	c.lastFailure = time.Now()
	if failures >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
		slog.Warn("AMQP circuit breaker opened", "failures", failures)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 4 {
		return maxBackoff
	}
	return time.Duration(1<<attempt) * time.Second
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
