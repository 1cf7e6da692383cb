package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/venue-dashboard/internal/model"
)

const maxBackoff = 30 * time.Second

// Applier receives decoded purchase changes. *purchasecache.Store
// satisfies it.
type Applier interface {
    Upsert(ctx context.Context, p model.Purchase) error
    Remove(ctx context.Context, id uint64) error
}

// Consumer listens to the purchase change queue and applies every event to
// the local cache.
type Consumer struct {
    url     string
    queue   string
    applier Applier
    logger  *zap.Logger
}

// NewConsumer prepares a consumer; nothing is dialed until Run.
func NewConsumer(url, queue string, applier Applier, logger *zap.Logger) *Consumer {
    if queue == "" {
        queue = DefaultQueueName
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Consumer{url: url, queue: queue, applier: applier, logger: logger.Named("purchase-consumer")}
}

// Run connects to RabbitMQ, declares the queue (durable) and consumes
// messages until ctx is cancelled. Broker failures are retried with
// exponential backoff; a message that cannot be applied is rejected
// without requeue so the consumer keeps moving.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.logger.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return nil
            }
            backoff = min(backoff*2, maxBackoff)
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return nil
        }
        c.logger.Warn("consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return nil
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.logger.Warn("set QoS failed", zap.Error(err))
    }

    if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    c.logger.Info("consuming purchase changes", zap.String("queue", c.queue))

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handleMessage(ctx, d.Body); err != nil {
                c.logger.Error("handle message failed", zap.Error(err))
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
    var ev PurchaseChangedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    switch ev.Type {
    case ChangeUpserted:
        if ev.Purchase == nil {
            return fmt.Errorf("upserted event for purchase %d has no purchase", ev.PurchaseID)
        }
        p := *ev.Purchase
        if p.ID == 0 {
            p.ID = ev.PurchaseID
        }
        if err := c.applier.Upsert(ctx, p); err != nil {
            return fmt.Errorf("apply upsert %d: %w", p.ID, err)
        }
    case ChangeDeleted:
        if err := c.applier.Remove(ctx, ev.PurchaseID); err != nil {
            return fmt.Errorf("apply delete %d: %w", ev.PurchaseID, err)
        }
    default:
        return fmt.Errorf("unknown change type %q", ev.Type)
    }
    c.logger.Debug("applied purchase change", zap.String("type", string(ev.Type)), zap.Uint64("purchase_id", ev.PurchaseID))
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
