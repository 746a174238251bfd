package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	"github.com/3cpo-dev/kubeprovision/internal/remote"
	"github.com/3cpo-dev/kubeprovision/internal/telemetry"
)

// StepError reports the step that stopped a node's script.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes a Script over one session.
type Runner struct {
	Script Script
}

// NewRunner returns a runner for the default script built from o.
func NewRunner(o Options) *Runner {
	return &Runner{Script: DefaultScript(o)}
}

// Run executes the script in order and stops at the first failing step.
// Steps already applied are left in place; every step is safe to repeat on
// the next attempt.
func (r *Runner) Run(ctx context.Context, s remote.Session, role node.Role, rec node.Record) error {
	for i, step := range r.Script {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Index: i, Err: err}
		}
		stepCtx, span := telemetry.StartSpan(ctx, "provision_step", map[string]string{
			"node": rec.ID.String(),
			"role": role.String(),
			"step": step.Name,
		})
		err := remote.Execute(stepCtx, s, step.Command)
		span.End(err)
		if err != nil {
			return &StepError{Step: step.Name, Index: i, Err: err}
		}
	}
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	logger.Info().Str("node", rec.ID.String()).Str("role", role.String()).Int("steps", len(r.Script)).Msg("node provisioned")
	return nil
}
