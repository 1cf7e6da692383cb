package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Publisher sends purchase changes to the broker. Each call opens its own
// connection; mutations are rare enough that pooling is not worth a
// reconnect state machine. Errors are logged and returned so callers can
// ignore failures without interrupting the request.
type Publisher struct {
    url    string
    queue  string
    logger *zap.Logger
}

// NewPublisher returns a publisher for queue on the broker at url.
func NewPublisher(url, queue string, logger *zap.Logger) *Publisher {
    if queue == "" {
        queue = DefaultQueueName
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Publisher{url: url, queue: queue, logger: logger.Named("purchase-publisher")}
}

// Publish delivers ev as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev PurchaseChangedEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    conn, err := amqp.Dial(p.url)
    if err != nil {
        p.logger.Warn("dial failed", zap.Error(err))
        return fmt.Errorf("dial broker: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.logger.Warn("channel open failed", zap.Error(err))
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    // idempotent; durable so messages survive broker restarts
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        p.logger.Warn("queue declare failed", zap.Error(err))
        return fmt.Errorf("queue declare: %w", err)
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Type:         string(ev.Type),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
        p.logger.Warn("publish failed", zap.Error(err), zap.Uint64("purchase_id", ev.PurchaseID))
        return fmt.Errorf("publish: %w", err)
    }
    return nil
}
