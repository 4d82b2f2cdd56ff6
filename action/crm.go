package action

import (
	"context"
	"fmt"
	"time"
)

// createTask accepts either an absolute RFC 3339 dueAt or a relative
// dueInMinutes; dueAt wins when both are set.
type createTask struct {
	Title        string `mapstructure:"title"`
	Assignee     string `mapstructure:"assignee"`
	DueAt        string `mapstructure:"dueAt"`
	DueInMinutes int    `mapstructure:"dueInMinutes"`
}

func (a *createTask) Type() string { return CREATE_TASK }

func (a *createTask) Validate() error {
	if err := required(CREATE_TASK, map[string]string{"title": a.Title}); err != nil {
		return err
	}
	if a.DueInMinutes < 0 {
		return fmt.Errorf("%s: dueInMinutes must not be negative", CREATE_TASK)
	}
	return nil
}

func (a *createTask) dueAt(now time.Time) (*time.Time, error) {
	if a.DueAt != "" {
		t, err := time.Parse(time.RFC3339, a.DueAt)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid dueAt %q: %w", CREATE_TASK, a.DueAt, err)
		}
		return &t, nil
	}
	if a.DueInMinutes > 0 {
		t := now.Add(time.Duration(a.DueInMinutes) * time.Minute)
		return &t, nil
	}
	return nil, nil
}

func (a *createTask) Execute(ctx context.Context, caps Capabilities, target Target) (Result, error) {
	due, err := a.dueAt(target.Now)
	if err != nil {
		return Result{}, err
	}
	id, err := caps.CreateTask(ctx, a.Title, a.Assignee, due)
	return Result{ExternalId: id}, err
}

type addNote struct {
	Body string `mapstructure:"body"`
}

func (a *addNote) Type() string { return ADD_NOTE }

func (a *addNote) Validate() error {
	return required(ADD_NOTE, map[string]string{"body": a.Body})
}

func (a *addNote) Execute(ctx context.Context, caps Capabilities, target Target) (Result, error) {
	return Result{}, caps.AddNote(ctx, target.EntityId, a.Body)
}

type updateStage struct {
	StageId string `mapstructure:"stageId"`
}

func (a *updateStage) Type() string { return UPDATE_STAGE }

func (a *updateStage) Validate() error {
	return required(UPDATE_STAGE, map[string]string{"stageId": a.StageId})
}

func (a *updateStage) Execute(ctx context.Context, caps Capabilities, target Target) (Result, error) {
	return Result{}, caps.UpdateStage(ctx, target.EntityId, a.StageId)
}

type assignUser struct {
	UserId string `mapstructure:"userId"`
	Role   string `mapstructure:"role"`
}

func (a *assignUser) Type() string { return ASSIGN_USER }

func (a *assignUser) Validate() error {
	return required(ASSIGN_USER, map[string]string{"userId": a.UserId})
}

func (a *assignUser) Execute(ctx context.Context, caps Capabilities, target Target) (Result, error) {
	return Result{}, caps.AssignUser(ctx, target.EntityId, a.UserId, a.Role)
}
