package schema

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecurityLevel classifies how sensitive the target environment is.
type SecurityLevel string

const (
	SecurityPublic     SecurityLevel = "public"
	SecurityCautious   SecurityLevel = "cautious"
	SecurityRestricted SecurityLevel = "restricted"
)

// Valid reports whether l is a known security level.
func (l SecurityLevel) Valid() bool {
	switch l {
	case SecurityPublic, SecurityCautious, SecurityRestricted:
		return true
	default:
		return false
	}
}

// Duration is a time.Duration that serializes as a Go duration string and
// also accepts integer milliseconds when decoding.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PermissionSet is the capability contract supplied with a run. It is not
// mutated while the run is in flight.
type PermissionSet struct {
	AllowTargetMutation  bool     `json:"allow_target_mutation" yaml:"allow_target_mutation"`
	AllowFormInteraction bool     `json:"allow_form_interaction" yaml:"allow_form_interaction"`
	AllowNavigationWait  bool     `json:"allow_navigation_wait" yaml:"allow_navigation_wait"`
	AllowDataExtraction  bool     `json:"allow_data_extraction" yaml:"allow_data_extraction"`
	RestrictedDomains    []string `json:"restricted_domains,omitempty" yaml:"restricted_domains,omitempty"`
	// MaxExecutionTime is advisory: callers enforce it by wrapping the run in a deadline.
	MaxExecutionTime Duration `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`
}

// AllowAll returns a permission set with every capability flag granted.
func AllowAll() PermissionSet {
	return PermissionSet{
		AllowTargetMutation:  true,
		AllowFormInteraction: true,
		AllowNavigationWait:  true,
		AllowDataExtraction:  true,
	}
}

// ExecutionContext is the read-only environment description for one run.
type ExecutionContext struct {
	TargetURL      string        `json:"target_url,omitempty" yaml:"target_url,omitempty"`
	Domain         string        `json:"domain,omitempty" yaml:"domain,omitempty"`
	SecurityLevel  SecurityLevel `json:"security_level" yaml:"security_level"`
	HasUserGesture bool          `json:"has_user_gesture,omitempty" yaml:"has_user_gesture,omitempty"`
	Permissions    PermissionSet `json:"permissions" yaml:"permissions"`
}

// Normalize returns a copy with the domain derived from TargetURL when unset
// and lower-cased, and an empty security level defaulted to public.
func (c ExecutionContext) Normalize() ExecutionContext {
	if c.Domain == "" && c.TargetURL != "" {
		if u, err := url.Parse(c.TargetURL); err == nil {
			c.Domain = u.Hostname()
		}
	}
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityPublic
	}
	return c
}

// Validate checks that the context is well-formed. Call it on a normalized context.
func (c ExecutionContext) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("context requires a domain or a target_url with a host")
	}
	if !c.SecurityLevel.Valid() {
		return fmt.Errorf("unknown security level %q", c.SecurityLevel)
	}
	if c.Permissions.MaxExecutionTime < 0 {
		return fmt.Errorf("max_execution_time must not be negative")
	}
	return nil
}
