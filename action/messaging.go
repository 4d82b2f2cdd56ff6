package action

import "context"

type sendText struct {
	Recipient string `mapstructure:"recipient"`
	Body      string `mapstructure:"body"`
}

func (a *sendText) Type() string { return SEND_TEXT }

func (a *sendText) Validate() error {
	return required(SEND_TEXT, map[string]string{"recipient": a.Recipient, "body": a.Body})
}

func (a *sendText) Execute(ctx context.Context, caps Capabilities, _ Target) (Result, error) {
	id, err := caps.SendText(ctx, a.Recipient, a.Body)
	return Result{ExternalId: id}, err
}

type sendEmail struct {
	To      string `mapstructure:"to"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

func (a *sendEmail) Type() string { return SEND_EMAIL }

func (a *sendEmail) Validate() error {
	return required(SEND_EMAIL, map[string]string{"to": a.To, "subject": a.Subject})
}

func (a *sendEmail) Execute(ctx context.Context, caps Capabilities, _ Target) (Result, error) {
	id, err := caps.SendEmail(ctx, a.To, a.Subject, a.Body)
	return Result{ExternalId: id}, err
}
