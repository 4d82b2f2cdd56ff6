package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohitkumar/autoflow/executor"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	Prefix         string
	Queue          string
	HandlerTimeout time.Duration
}

// EventHandler is the engine side of event ingestion.
type EventHandler interface {
	HandleTriggerEvent(ctx context.Context, ev model.TriggerEvent) ([]*model.RunInstance, error)
	HandleConditionEvent(ctx context.Context, ev model.ConditionEvent) ([]*model.RunInstance, error)
}

// Ack is sent back when the publisher asked for a reply.
type Ack struct {
	RunIds []string `json:"runIds"`
	Error  string   `json:"error,omitempty"`
}

var _ executor.Executor = new(NatsConsumer)

// NatsConsumer queue-subscribes to <prefix>.trigger and <prefix>.condition so
// each event is handled by exactly one node of the group.
type NatsConsumer struct {
	conn    *nats.Conn
	handler EventHandler
	config  Config
	subs    []*nats.Subscription
}

func NewNatsConsumer(conn *nats.Conn, handler EventHandler, config Config) *NatsConsumer {
	if config.Queue == "" {
		config.Queue = "autoflow"
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 30 * time.Second
	}
	return &NatsConsumer{conn: conn, handler: handler, config: config}
}

func (c *NatsConsumer) Name() string {
	return "nats-consumer"
}

func TriggerSubject(prefix string) string {
	return prefix + ".trigger"
}

func ConditionSubject(prefix string) string {
	return prefix + ".condition"
}

func (c *NatsConsumer) Start() error {
	trig, err := c.conn.QueueSubscribe(TriggerSubject(c.config.Prefix), c.config.Queue, c.onTrigger)
	if err != nil {
		return err
	}
	cond, err := c.conn.QueueSubscribe(ConditionSubject(c.config.Prefix), c.config.Queue, c.onCondition)
	if err != nil {
		_ = trig.Unsubscribe()
		return err
	}
	c.subs = []*nats.Subscription{trig, cond}
	if err := c.conn.Flush(); err != nil {
		return err
	}
	logger.Info("nats consumer started", zap.String("trigger", trig.Subject), zap.String("condition", cond.Subject), zap.String("queue", c.config.Queue))
	return nil
}

// Stop drains the subscriptions so in-flight messages finish.
func (c *NatsConsumer) Stop() error {
	var firstErr error
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.subs = nil
	return firstErr
}

func (c *NatsConsumer) onTrigger(msg *nats.Msg) {
	var ev model.TriggerEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warn("dropping malformed trigger event", zap.String("subject", msg.Subject), zap.Error(err))
		c.ack(msg, nil, fmt.Errorf("malformed trigger event: %w", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandlerTimeout)
	defer cancel()
	runs, err := c.handler.HandleTriggerEvent(ctx, ev)
	if err != nil {
		logger.Error("error while handling trigger event", zap.String("entity", ev.EntityId), zap.Error(err))
	}
	c.ack(msg, runs, err)
}

func (c *NatsConsumer) onCondition(msg *nats.Msg) {
	var ev model.ConditionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warn("dropping malformed condition event", zap.String("subject", msg.Subject), zap.Error(err))
		c.ack(msg, nil, fmt.Errorf("malformed condition event: %w", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandlerTimeout)
	defer cancel()
	runs, err := c.handler.HandleConditionEvent(ctx, ev)
	if err != nil {
		logger.Error("error while handling condition event", zap.String("entity", ev.EntityId), zap.Error(err))
	}
	c.ack(msg, runs, err)
}

func (c *NatsConsumer) ack(msg *nats.Msg, runs []*model.RunInstance, err error) {
	if msg.Reply == "" {
		return
	}
	ack := Ack{RunIds: make([]string, 0, len(runs))}
	for _, r := range runs {
		ack.RunIds = append(ack.RunIds, r.Id)
	}
	if err != nil {
		ack.Error = err.Error()
	}
	data, _ := json.Marshal(ack)
	if err := msg.Respond(data); err != nil {
		logger.Warn("error while acking event", zap.String("subject", msg.Subject), zap.Error(err))
	}
}
