package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"pos-sync/internal/collab"
	"pos-sync/internal/config"
	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
)

const changesExchange = "sync_changes"

// AMQPFeed is the RabbitMQ-backed change feed. One durable topic exchange
// carries every notification; each device consumes from its own queue per
// collection, bound with {tenant}.{collection}.* routing keys.
type AMQPFeed struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	acks     <-chan amqp.Confirmation
	mu       sync.Mutex // serializes publishes while waiting on confirms
	deviceID string
	auth     collab.Auth
	log      *logger.Logger
}

// DialFeed connects, opens the publish channel with publisher confirms, and
// declares the exchange.
func DialFeed(cfg config.MQ, deviceID string, auth collab.Auth, log *logger.Logger) (*AMQPFeed, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.VHost)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(changesExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPFeed{conn: conn, pubCh: ch, acks: acks, deviceID: deviceID, auth: auth, log: log}, nil
}

func (f *AMQPFeed) Close() {
	if f.pubCh != nil {
		_ = f.pubCh.Close()
	}
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func (f *AMQPFeed) Ping() error {
	if f.conn == nil || f.conn.IsClosed() {
		return fmt.Errorf("%w: feed connection closed", domain.ErrRemoteUnavailable)
	}
	return nil
}

// Publish sends one change notification and waits for the broker confirm.
func (f *AMQPFeed) Publish(ctx context.Context, n domain.ChangeNotification) error {
	tenant := f.auth.CurrentTenantID()
	if tenant == "" {
		return fmt.Errorf("%w: no tenant (signed out)", domain.ErrRemoteUnavailable)
	}
	n.DeviceID = f.deviceID
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal change notification: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := fmt.Sprintf("%s.%s.%s", tenant, n.Collection, n.Kind)
	err = f.pubCh.PublishWithContext(ctx, changesExchange, key, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		CorrelationId: n.ID,
		Timestamp:     n.SentAt,
		Headers:       amqp.Table{"x-device": f.deviceID},
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish change: %v", domain.ErrRemoteUnavailable, err)
	}

	select {
	case conf := <-f.acks:
		if !conf.Ack {
			return fmt.Errorf("%w: publish NACK from broker", domain.ErrRemoteUnavailable)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe opens an independent consumer channel for one collection and
// delivers notifications until ctx is cancelled. Malformed payloads are
// dropped (nack without requeue); transient handling never loses the
// delivery because the channel ack happens only after the hand-off.
func (f *AMQPFeed) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeNotification, error) {
	tenant := f.auth.CurrentTenantID()
	if tenant == "" {
		return nil, fmt.Errorf("%w: no tenant (signed out)", domain.ErrRemoteUnavailable)
	}

	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open consume channel: %v", domain.ErrRemoteUnavailable, err)
	}

	queue := fmt.Sprintf("sync.%s.%s", f.deviceID, collection)
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("queue declare %s: %w", queue, err)
	}
	bindKey := fmt.Sprintf("%s.%s.*", tenant, collection)
	if err := ch.QueueBind(queue, bindKey, changesExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("queue bind %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	consumerTag := queue
	msgs, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan domain.ChangeNotification)

	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Cancel(consumerTag, false)
				return
			case e := <-closeCh:
				if e != nil {
					f.log.Error("amqp_channel_closed", e, map[string]any{"collection": collection})
				}
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var n domain.ChangeNotification
				if err := json.Unmarshal(d.Body, &n); err != nil {
					f.log.Error("change_unmarshal_failed", err, map[string]any{"collection": collection})
					_ = d.Nack(false, false)
					continue
				}
				select {
				case out <- n:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					_ = ch.Cancel(consumerTag, false)
					return
				}
			}
		}
	}()

	return out, nil
}
