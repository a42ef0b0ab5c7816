package permissions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/pkg/schema"
)

// Validator enforces the permission contract before a run starts.
// It never grants partially: either every step is allowed or the run is refused.
type Validator struct {
	gateway Gateway
	logger  *slog.Logger
}

// NewValidator creates a Validator. A nil gateway behaves like AllowAll.
func NewValidator(gateway Gateway, logger *slog.Logger) *Validator {
	if gateway == nil {
		gateway = AllowAll{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Validator{gateway: gateway, logger: logger}
}

// requirement maps a step to the flag it needs and the capability it implies.
type requirement struct {
	allowed    bool
	flag       string
	capability string
}

func requirementFor(step schema.Step, perms schema.PermissionSet) (requirement, bool) {
	switch step.Kind {
	case schema.StepKindClick:
		return requirement{perms.AllowTargetMutation, "allow_target_mutation", CapTargetMutate}, true
	case schema.StepKindType, schema.StepKindSelect:
		return requirement{perms.AllowFormInteraction, "allow_form_interaction", CapTargetForm}, true
	case schema.StepKindExtract:
		return requirement{perms.AllowDataExtraction, "allow_data_extraction", CapTargetExtract}, true
	case schema.StepKindWait:
		if step.WaitCondition != nil && step.WaitCondition.Kind == schema.WaitExternalStateChanged {
			return requirement{perms.AllowNavigationWait, "allow_navigation_wait", CapNavigationWait}, true
		}
	}
	return requirement{}, false
}

// Validate checks, in order and failing fast: the domain restriction list,
// the security level, the per-step capability flags, and finally the gateway.
func (v *Validator) Validate(ctx context.Context, steps []schema.Step, ectx schema.ExecutionContext) error {
	perms := ectx.Permissions

	if restrictedDomain(ectx.Domain, perms.RestrictedDomains) {
		return schema.NewErrorf(schema.ErrCodeDomainRestricted,
			"automation is not allowed on restricted domain %s", ectx.Domain).
			WithDetails(map[string]any{"domain": ectx.Domain})
	}

	switch ectx.SecurityLevel {
	case schema.SecurityRestricted:
		return schema.NewErrorf(schema.ErrCodeSecurityRestricted,
			"automation is not allowed on targets with security level %s", ectx.SecurityLevel)
	case schema.SecurityCautious:
		v.logger.WarnContext(ctx, "running automation on a cautious target",
			slog.String("domain", ectx.Domain),
			slog.Bool("has_user_gesture", ectx.HasUserGesture))
	}

	var capabilities []string
	seen := make(map[string]bool)
	for i, step := range steps {
		req, ok := requirementFor(step, perms)
		if !ok {
			continue
		}
		if !req.allowed {
			return schema.NewErrorf(schema.ErrCodePermissionDenied,
				"permission denied: %s steps require %s", step.Kind, req.flag).
				WithStep(i).
				WithDetails(map[string]any{"step_kind": string(step.Kind), "flag": req.flag})
		}
		if !seen[req.capability] {
			seen[req.capability] = true
			capabilities = append(capabilities, req.capability)
		}
	}

	if len(capabilities) == 0 {
		return nil
	}

	granted, err := v.gateway.Request(ctx, Request{
		Capabilities:   capabilities,
		Domain:         ectx.Domain,
		SecurityLevel:  ectx.SecurityLevel,
		HasUserGesture: ectx.HasUserGesture,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeGatewayDenied,
			"permission gateway failed for [%s]: %s", strings.Join(capabilities, ", "), err.Error()).
			WithCause(err)
	}
	if !granted {
		return schema.NewErrorf(schema.ErrCodeGatewayDenied,
			"additional permissions not granted: [%s]", strings.Join(capabilities, ", ")).
			WithDetails(map[string]any{"capabilities": capabilities})
	}
	return nil
}

// restrictedDomain matches case-insensitively, including subdomains of a restricted entry.
func restrictedDomain(domain string, restricted []string) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	for _, r := range restricted {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if domain == r || strings.HasSuffix(domain, "."+r) {
			return true
		}
	}
	return false
}
