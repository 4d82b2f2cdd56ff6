package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohitkumar/autoflow/flow"
	"github.com/nats-io/nats.go"
)

var _ flow.EntityResolver = new(EntityResolver)

// EntityResolver asks <prefix>.entity.get for a fresh entity snapshot.
type EntityResolver struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

type entityReply struct {
	Entity map[string]any `json:"entity"`
	Error  string         `json:"error,omitempty"`
}

func NewEntityResolver(conn *nats.Conn, conf Config) *EntityResolver {
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = 10 * time.Second
	}
	return &EntityResolver{conn: conn, subject: conf.Prefix + ".entity.get", timeout: conf.RequestTimeout}
}

func (r *EntityResolver) Resolve(ctx context.Context, entityId string) (map[string]any, error) {
	data, err := json.Marshal(map[string]string{"entityId": entityId})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	msg, err := r.conn.RequestWithContext(ctx, r.subject, data)
	if err != nil {
		return nil, err
	}
	var reply entityReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("malformed entity reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("entity %s: %s", entityId, reply.Error)
	}
	return reply.Entity, nil
}
