package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	URL            string
	Prefix         string
	RequestTimeout time.Duration
}

func Connect(conf Config) (*nats.Conn, error) {
	conn, err := nats.Connect(conf.URL,
		nats.Name("autoflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", conf.URL, err)
	}
	return conn, nil
}

// Reply is the body capability services answer with.
type Reply struct {
	Id       string `json:"id,omitempty"`
	Ok       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	NotFound bool   `json:"notFound,omitempty"`
}

var _ action.Capabilities = new(NatsCapabilities)

// NatsCapabilities forwards each capability call as a request on
// <prefix>.capability.<action type> and waits for the reply.
type NatsCapabilities struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
}

func NewNatsCapabilities(conn *nats.Conn, conf Config) *NatsCapabilities {
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = 10 * time.Second
	}
	return &NatsCapabilities{conn: conn, prefix: conf.Prefix, timeout: conf.RequestTimeout}
}

func Subject(prefix string, actionType string) string {
	return prefix + ".capability." + actionType
}

func (n *NatsCapabilities) request(ctx context.Context, actionType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	msg, err := n.conn.RequestWithContext(ctx, Subject(n.prefix, actionType), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return "", fmt.Errorf("no service handles %s", actionType)
		}
		return "", err
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("malformed %s reply: %w", actionType, err)
	}
	if reply.NotFound {
		return "", action.ErrNotFound
	}
	if !reply.Ok {
		if reply.Error == "" {
			reply.Error = "rejected"
		}
		return "", errors.New(reply.Error)
	}
	return reply.Id, nil
}

func (n *NatsCapabilities) CreateChannel(ctx context.Context, name string) (string, error) {
	return n.request(ctx, action.CREATE_CHANNEL, map[string]any{"name": name})
}

func (n *NatsCapabilities) SendMessage(ctx context.Context, target string, body string) (string, error) {
	return n.request(ctx, action.SEND_CHANNEL_MESSAGE, map[string]any{"target": target, "body": body})
}

func (n *NatsCapabilities) CreateTask(ctx context.Context, title string, assignee string, dueAt *time.Time) (string, error) {
	payload := map[string]any{"title": title, "assignee": assignee}
	if dueAt != nil {
		payload["dueAt"] = dueAt.UTC().Format(time.RFC3339)
	}
	return n.request(ctx, action.CREATE_TASK, payload)
}

func (n *NatsCapabilities) SendText(ctx context.Context, recipient string, body string) (string, error) {
	return n.request(ctx, action.SEND_TEXT, map[string]any{"recipient": recipient, "body": body})
}

func (n *NatsCapabilities) SendEmail(ctx context.Context, to string, subject string, body string) (string, error) {
	return n.request(ctx, action.SEND_EMAIL, map[string]any{"to": to, "subject": subject, "body": body})
}

func (n *NatsCapabilities) FindChannel(ctx context.Context, query string) (string, error) {
	return n.request(ctx, action.FIND_CHANNEL, map[string]any{"query": query})
}

func (n *NatsCapabilities) AddNote(ctx context.Context, entityId string, body string) error {
	_, err := n.request(ctx, action.ADD_NOTE, map[string]any{"entityId": entityId, "body": body})
	return err
}

func (n *NatsCapabilities) UpdateStage(ctx context.Context, entityId string, stageId string) error {
	_, err := n.request(ctx, action.UPDATE_STAGE, map[string]any{"entityId": entityId, "stageId": stageId})
	return err
}

func (n *NatsCapabilities) AssignUser(ctx context.Context, entityId string, userId string, role string) error {
	_, err := n.request(ctx, action.ASSIGN_USER, map[string]any{"entityId": entityId, "userId": userId, "role": role})
	return err
}
