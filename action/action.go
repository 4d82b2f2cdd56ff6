package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const CREATE_CHANNEL = "create_channel"
const SEND_CHANNEL_MESSAGE = "send_channel_message"
const FIND_CHANNEL = "find_channel"
const SEND_TEXT = "send_text"
const SEND_EMAIL = "send_email"
const CREATE_TASK = "create_task"
const ADD_NOTE = "add_note"
const UPDATE_STAGE = "update_stage"
const ASSIGN_USER = "assign_user"

// ErrNotFound is returned by Capabilities.FindChannel when nothing matches.
var ErrNotFound = errors.New("not found")

// Capabilities is the narrow boundary to the services that carry out actions.
// Every method performs exactly one external call.
type Capabilities interface {
	CreateChannel(ctx context.Context, name string) (string, error)
	SendMessage(ctx context.Context, target string, body string) (string, error)
	CreateTask(ctx context.Context, title string, assignee string, dueAt *time.Time) (string, error)
	SendText(ctx context.Context, recipient string, body string) (string, error)
	SendEmail(ctx context.Context, to string, subject string, body string) (string, error)
	FindChannel(ctx context.Context, query string) (string, error)
	AddNote(ctx context.Context, entityId string, body string) error
	UpdateStage(ctx context.Context, entityId string, stageId string) error
	AssignUser(ctx context.Context, entityId string, userId string, role string) error
}

// Target identifies the entity an action runs against.
type Target struct {
	EntityId string
	Now      time.Time
}

type Result struct {
	ExternalId string
}

// Action is one typed action variant, built from a step's resolved config.
type Action interface {
	Type() string
	Validate() error
	Execute(ctx context.Context, caps Capabilities, target Target) (Result, error)
}

type Factory func(config map[string]any) (Action, error)

// Registry maps action types to the factories that build their variants.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(CREATE_CHANNEL, decodeInto[createChannel, *createChannel])
	r.Register(SEND_CHANNEL_MESSAGE, decodeInto[sendChannelMessage, *sendChannelMessage])
	r.Register(FIND_CHANNEL, decodeInto[findChannel, *findChannel])
	r.Register(SEND_TEXT, decodeInto[sendText, *sendText])
	r.Register(SEND_EMAIL, decodeInto[sendEmail, *sendEmail])
	r.Register(CREATE_TASK, decodeInto[createTask, *createTask])
	r.Register(ADD_NOTE, decodeInto[addNote, *addNote])
	r.Register(UPDATE_STAGE, decodeInto[updateStage, *updateStage])
	r.Register(ASSIGN_USER, decodeInto[assignUser, *assignUser])
	return r
}

func (r *Registry) Register(actionType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[actionType] = factory
}

func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[actionType]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Build(actionType string, config map[string]any) (Action, error) {
	r.mu.RLock()
	factory, ok := r.factories[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	return factory(config)
}

// variant is implemented by pointer types of the built-in action structs.
type variant[T any] interface {
	*T
	Action
}

func decodeInto[T any, P variant[T]](config map[string]any) (Action, error) {
	var v T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &v,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(config); err != nil {
		return nil, err
	}
	return P(&v), nil
}

func required(actionType string, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if fields[name] == "" {
			return fmt.Errorf("%s: %s is required", actionType, name)
		}
	}
	return nil
}
