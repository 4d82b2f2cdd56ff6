package action

import (
	"context"
	"time"

	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
)

// Outcome is what a single dispatch produced, timed by the dispatcher's clock.
type Outcome struct {
	ActionType  string
	ExternalId  string
	AttemptedAt time.Time
	CompletedAt time.Time
	Unresolved  []string
}

// Dispatcher resolves an action step against the entity context and performs
// exactly one capability call for it. Dispatch is not idempotent.
type Dispatcher struct {
	registry *Registry
	caps     Capabilities
	clock    util.Clock
}

func NewDispatcher(registry *Registry, caps Capabilities, clock util.Clock) *Dispatcher {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &Dispatcher{
		registry: registry,
		caps:     caps,
		clock:    clock,
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch returns a model.DispatchError for anything that prevents the
// capability call from succeeding, including undecodable configs.
func (d *Dispatcher) Dispatch(ctx context.Context, step model.Step, entityId string, entity map[string]any) (Outcome, error) {
	out := Outcome{ActionType: step.ActionType, AttemptedAt: d.clock.Now()}

	config, unresolved := util.ResolveTemplates(entity, step.Config)
	out.Unresolved = unresolved
	if len(unresolved) > 0 {
		logger.Warn("unresolved template variables", zap.String("entity", entityId), zap.String("action", step.ActionType), zap.Strings("variables", unresolved))
	}

	act, err := d.registry.Build(step.ActionType, config)
	if err != nil {
		out.CompletedAt = d.clock.Now()
		return out, model.DispatchError{ActionType: step.ActionType, Err: err}
	}
	if err := act.Validate(); err != nil {
		out.CompletedAt = d.clock.Now()
		return out, model.DispatchError{ActionType: step.ActionType, Err: err}
	}

	res, err := act.Execute(ctx, d.caps, Target{EntityId: entityId, Now: out.AttemptedAt})
	out.CompletedAt = d.clock.Now()
	out.ExternalId = res.ExternalId
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return out, model.DispatchError{ActionType: step.ActionType, Err: err}
	}
	return out, nil
}

// Check decodes a step's config when a definition is saved. Templated values
// are left out since their type is only known once they resolve.
func (r *Registry) Check(step model.Step) error {
	if _, err := r.Build(step.ActionType, util.OmitTemplated(step.Config)); err != nil {
		return err
	}
	return nil
}
