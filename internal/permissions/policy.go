package permissions

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
	"github.com/rendis/autopilot/pkg/schema"
)

// Policy languages understood by NewPolicyGateway.
const (
	LangExpr = "expr"
	LangCEL  = "cel"
)

// PolicyGateway grants a request when a boolean policy expression holds.
// The expression sees four variables:
//   - capabilities:     list of requested capability names
//   - domain:           target domain
//   - security_level:   public | cautious | restricted
//   - has_user_gesture: whether the run was started by a user gesture
//
// Example (expr): `domain endsWith ".internal" || !("target.form" in capabilities)`
// Example (cel):  `has_user_gesture || !capabilities.exists(c, c == "target.mutate")`
type PolicyGateway struct {
	source string
	eval   func(env map[string]any) (any, error)
}

// NewPolicyGateway compiles source in the given language ("" means expr).
func NewPolicyGateway(lang, source string) (*PolicyGateway, error) {
	if source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty policy expression")
	}
	switch lang {
	case "", LangExpr:
		prg, err := compileExpr(source)
		if err != nil {
			return nil, err
		}
		return &PolicyGateway{source: source, eval: func(env map[string]any) (any, error) {
			return vm.Run(prg, env)
		}}, nil
	case LangCEL:
		prg, err := compileCEL(source)
		if err != nil {
			return nil, err
		}
		return &PolicyGateway{source: source, eval: func(env map[string]any) (any, error) {
			out, _, err := prg.Eval(env)
			if err != nil {
				return nil, err
			}
			return out.Value(), nil
		}}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown policy language %q (supported: expr, cel)", lang)
	}
}

func policyEnv(req Request) map[string]any {
	caps := req.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return map[string]any{
		"capabilities":     caps,
		"domain":           req.Domain,
		"security_level":   string(req.SecurityLevel),
		"has_user_gesture": req.HasUserGesture,
	}
}

func compileExpr(source string) (*vm.Program, error) {
	prg, err := expr.Compile(source, expr.Env(policyEnv(Request{})), expr.AsBool())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr policy compilation failed for %q: %s", source, err.Error()).WithCause(err)
	}
	return prg, nil
}

func compileCEL(source string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("capabilities", cel.ListType(cel.StringType)),
		cel.Variable("domain", cel.StringType),
		cel.Variable("security_level", cel.StringType),
		cel.Variable("has_user_gesture", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, iss := env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL policy compilation failed for %q: %s", source, iss.Err().Error()).WithCause(iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program creation failed for %q: %s", source, err.Error()).WithCause(err)
	}
	return prg, nil
}

// Request evaluates the policy against the request.
func (g *PolicyGateway) Request(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	out, err := g.eval(policyEnv(req))
	if err != nil {
		return false, fmt.Errorf("evaluate policy %q: %w", g.source, err)
	}
	granted, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("policy %q returned %T, want bool", g.source, out)
	}
	return granted, nil
}
