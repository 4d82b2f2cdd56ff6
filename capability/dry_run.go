package capability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/logger"
	"go.uber.org/zap"
)

var _ action.Capabilities = DryRun{}

// DryRun logs every call and answers with generated ids.
type DryRun struct{}

func (DryRun) log(actionType string, fields ...zap.Field) string {
	id := uuid.NewString()
	logger.Info("dry run capability", append(fields, zap.String("action", actionType), zap.String("id", id))...)
	return id
}

func (d DryRun) CreateChannel(_ context.Context, name string) (string, error) {
	return d.log(action.CREATE_CHANNEL, zap.String("name", name)), nil
}

func (d DryRun) SendMessage(_ context.Context, target string, body string) (string, error) {
	return d.log(action.SEND_CHANNEL_MESSAGE, zap.String("target", target), zap.String("body", body)), nil
}

func (d DryRun) CreateTask(_ context.Context, title string, assignee string, dueAt *time.Time) (string, error) {
	fields := []zap.Field{zap.String("title", title), zap.String("assignee", assignee)}
	if dueAt != nil {
		fields = append(fields, zap.Time("dueAt", *dueAt))
	}
	return d.log(action.CREATE_TASK, fields...), nil
}

func (d DryRun) SendText(_ context.Context, recipient string, body string) (string, error) {
	return d.log(action.SEND_TEXT, zap.String("recipient", recipient), zap.String("body", body)), nil
}

func (d DryRun) SendEmail(_ context.Context, to string, subject string, body string) (string, error) {
	return d.log(action.SEND_EMAIL, zap.String("to", to), zap.String("subject", subject), zap.Int("bodyLength", len(body))), nil
}

func (d DryRun) FindChannel(_ context.Context, query string) (string, error) {
	return d.log(action.FIND_CHANNEL, zap.String("query", query)), nil
}

func (d DryRun) AddNote(_ context.Context, entityId string, body string) error {
	d.log(action.ADD_NOTE, zap.String("entity", entityId), zap.String("body", body))
	return nil
}

func (d DryRun) UpdateStage(_ context.Context, entityId string, stageId string) error {
	d.log(action.UPDATE_STAGE, zap.String("entity", entityId), zap.String("stageId", stageId))
	return nil
}

func (d DryRun) AssignUser(_ context.Context, entityId string, userId string, role string) error {
	d.log(action.ASSIGN_USER, zap.String("entity", entityId), zap.String("userId", userId), zap.String("role", role))
	return nil
}
