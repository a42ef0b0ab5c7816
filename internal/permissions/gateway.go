package permissions

import (
	"context"

	"github.com/rendis/autopilot/pkg/schema"
)

// Capability names requested from a Gateway.
const (
	CapTargetMutate   = "target.mutate"
	CapTargetForm     = "target.form"
	CapNavigationWait = "target.navigation_wait"
	CapTargetExtract  = "target.extract"
)

// Request is what a Gateway is asked to grant.
type Request struct {
	Capabilities   []string
	Domain         string
	SecurityLevel  schema.SecurityLevel
	HasUserGesture bool
}

// Gateway grants additional runtime consent for a set of capabilities.
type Gateway interface {
	Request(ctx context.Context, req Request) (granted bool, err error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (bool, error)

func (f GatewayFunc) Request(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AllowAll is the gateway for environments without a runtime consent model.
type AllowAll struct{}

func (AllowAll) Request(context.Context, Request) (bool, error) { return true, nil }

// DenyAll refuses every request.
type DenyAll struct{}

func (DenyAll) Request(context.Context, Request) (bool, error) { return false, nil }
