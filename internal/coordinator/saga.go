package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step represents a single unit of work in a settlement saga.
// Each step must have a compensating action to undo its effects.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator manages the execution of a collection of Steps.
type Orchestrator struct {
	steps  []Step
	logger *slog.Logger
}

func NewOrchestrator(logger *slog.Logger, steps ...Step) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{steps: steps, logger: logger}
}

// Start runs the saga steps sequentially.
// If a step fails, it triggers the compensation of all previously successful
// steps. Failed compensations are joined to the returned error.
func (o *Orchestrator) Start(ctx context.Context) error {
	var successfulSteps []Step

	for _, step := range o.steps {
		o.logger.DebugContext(ctx, "executing step", "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			o.logger.WarnContext(ctx, "step failed, starting rollback", "step", step.Name(), "error", err)
			if rbErr := o.rollback(ctx, successfulSteps); rbErr != nil {
				return errors.Join(err, rbErr)
			}
			return err
		}
		// Track successful step for potential compensation (LIFO)
		successfulSteps = append(successfulSteps, step)
	}

	o.logger.DebugContext(ctx, "saga completed", "steps", len(o.steps))
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) error {
	// Compensation must run even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		o.logger.InfoContext(ctx, "compensating step", "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			o.logger.ErrorContext(ctx, "CRITICAL: failed to compensate step", "step", step.Name(), "error", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name(), err))
		}
	}
	return errors.Join(errs...)
}
