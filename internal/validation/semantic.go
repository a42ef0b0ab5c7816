package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rendis/autopilot/internal/permissions"
	"github.com/rendis/autopilot/pkg/schema"
)

// ValidateRun performs the checks a run would fail on, without touching a backend.
// Problems that make the controller reject the call or stop the run are errors;
// problems that only make the permission check refuse the run are warnings,
// because they depend on the environment the script is run in.
func ValidateRun(ctx context.Context, steps []schema.Step, ectx schema.ExecutionContext) *schema.Report {
	result := &schema.Report{}

	ectx = ectx.Normalize()
	if err := ectx.Validate(); err != nil {
		result.Fail("context", schema.ErrCodePrecondition, err.Error())
	}
	result.Include(schema.ValidateSteps(steps))

	maxTime := ectx.Permissions.MaxExecutionTime.Std()
	for i := range steps {
		validateStepSemantic(&steps[i], fmt.Sprintf("steps[%d]", i), maxTime, result)
	}

	if result.OK() {
		// Gateway consent is granted at run time; only the static checks matter here.
		err := permissions.NewValidator(permissions.AllowAll{}, nil).Validate(ctx, steps, ectx)
		var apErr *schema.AutopilotError
		if errors.As(err, &apErr) {
			path := "context.permissions"
			if apErr.StepIndex != nil {
				path = fmt.Sprintf("steps[%d]", *apErr.StepIndex)
			}
			result.Warn(path, apErr.Code, apErr.Message)
		}
	}

	return result
}

func validateStepSemantic(step *schema.Step, path string, maxTime time.Duration, result *schema.Report) {
	if step.Kind != "" && !step.Kind.Valid() {
		result.Fail(path+".kind", schema.ErrCodeUnknownStepKind,
			fmt.Sprintf("unknown step kind %q", step.Kind))
		return
	}

	if step.RequiresValue() && step.Value == "" {
		result.Fail(path+".value", schema.ErrCodeInvalidStep,
			fmt.Sprintf("%s step requires a value", step.Kind))
	}

	if step.Kind != schema.StepKindWait && step.Kind != schema.StepKindClick && step.WaitCondition != nil {
		result.Warn(path+".wait_condition", schema.ErrCodeValidation,
			fmt.Sprintf("wait_condition is ignored on %s steps", step.Kind))
	}

	if step.WaitCondition != nil && step.WaitCondition.Kind == schema.WaitTimeout && maxTime > 0 {
		if d, err := step.WaitCondition.Duration(); err == nil && d > maxTime {
			result.Warn(path+".wait_condition", schema.ErrCodeValidation,
				fmt.Sprintf("timeout %s exceeds max_execution_time %s", d, maxTime))
		}
	}
}
