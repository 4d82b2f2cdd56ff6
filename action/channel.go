package action

import "context"

type createChannel struct {
	Name string `mapstructure:"name"`
}

func (a *createChannel) Type() string { return CREATE_CHANNEL }

func (a *createChannel) Validate() error {
	return required(CREATE_CHANNEL, map[string]string{"name": a.Name})
}

func (a *createChannel) Execute(ctx context.Context, caps Capabilities, _ Target) (Result, error) {
	id, err := caps.CreateChannel(ctx, a.Name)
	return Result{ExternalId: id}, err
}

type sendChannelMessage struct {
	Target string `mapstructure:"target"`
	Body   string `mapstructure:"body"`
}

func (a *sendChannelMessage) Type() string { return SEND_CHANNEL_MESSAGE }

func (a *sendChannelMessage) Validate() error {
	return required(SEND_CHANNEL_MESSAGE, map[string]string{"target": a.Target, "body": a.Body})
}

func (a *sendChannelMessage) Execute(ctx context.Context, caps Capabilities, _ Target) (Result, error) {
	id, err := caps.SendMessage(ctx, a.Target, a.Body)
	return Result{ExternalId: id}, err
}

// findChannel fails with ErrNotFound when no channel matches the query.
type findChannel struct {
	Query string `mapstructure:"query"`
}

func (a *findChannel) Type() string { return FIND_CHANNEL }

func (a *findChannel) Validate() error {
	return required(FIND_CHANNEL, map[string]string{"query": a.Query})
}

func (a *findChannel) Execute(ctx context.Context, caps Capabilities, _ Target) (Result, error) {
	id, err := caps.FindChannel(ctx, a.Query)
	return Result{ExternalId: id}, err
}
