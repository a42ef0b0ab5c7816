package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rendis/autopilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutScript = `
name: checkout
context:
  target_url: https://shop.test/cart
  permissions:
    allow_target_mutation: true
    allow_form_interaction: true
    allow_data_extraction: true
steps:
  - kind: type
    selector: "#qty"
    value: 2
  - kind: click
    selector: "#pay"
    wait_condition: {kind: external_state_changed, value: /thanks}
  - kind: extract
    selector: "#total"
expect:
  type: object
  required: [step_2_extract]
fixture:
  elements:
    - {selector: "#qty", tag: input}
    - {selector: "#pay", tag: button, navigates_to: "https://shop.test/thanks"}
    - {selector: "#total", text: "$42.00"}
`

// syncBuffer is a bytes.Buffer safe for the progress printer and the
// logger writing stderr at the same time.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execute runs the CLI with an isolated home directory and no pauses.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AUTOPILOT_TYPE_DELAY", "0s")
	t.Setenv("AUTOPILOT_SETTLE_DELAY", "0s")
	t.Setenv("AUTOPILOT_RESOLVE_DELAY", "1ms")
	t.Setenv("AUTOPILOT_POLL_INTERVAL", "5ms")

	var stdout, stderr syncBuffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_Succeeds(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)

	stdout, stderr, err := execute(t, "run", path)
	require.NoError(t, err, stderr)

	var result schema.AutomationResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Succeeded)
	assert.Equal(t, 3, result.CompletedSteps)
	assert.Equal(t, "$42.00", result.ExtractedData["step_2_extract"])

	assert.Contains(t, stderr, "[3/3] completed")
	assert.Contains(t, stderr, "state running")
}

func TestRun_Query(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)

	stdout, _, err := execute(t, "run", "--quiet", "-q", ".extracted_data.step_2_extract", path)
	require.NoError(t, err)
	assert.Equal(t, "\"$42.00\"\n", stdout)
}

func TestRun_BadQueryFailsBeforeRunning(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)

	stdout, _, err := execute(t, "run", "-q", ".[", path)
	require.Error(t, err)
	assert.Empty(t, stdout)
}

func TestRun_ExpectationFailureExitsNonZero(t *testing.T) {
	script := strings.Replace(checkoutScript, "required: [step_2_extract]", "required: [step_9_extract]", 1)
	path := writeScript(t, "checkout.yaml", script)

	stdout, stderr, err := execute(t, "run", "--quiet", path)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, stdout, `"succeeded": true`)
	assert.Contains(t, stderr, "expectation failed")
}

func TestRun_PolicyDenies(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)

	stdout, _, err := execute(t, "run", "--quiet", "--policy", `!("target.form" in capabilities)`, path)
	assert.ErrorIs(t, err, errRunFailed)

	var result schema.AutomationResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.False(t, result.Succeeded)
	assert.Equal(t, schema.ErrCodeGatewayDenied, result.ErrorCode)
	assert.Empty(t, result.StepResults)
}

func TestRun_UnknownBackend(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)
	_, _, err := execute(t, "run", "--backend", "carrier-pigeon", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestValidate(t *testing.T) {
	path := writeScript(t, "checkout.yaml", checkoutScript)
	stdout, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "checkout is valid (3 steps")
}

func TestValidate_Failures(t *testing.T) {
	bad := writeScript(t, "bad.yaml", "context: {target_url: https://a.test}\nsteps: []\n")
	_, stderr, err := execute(t, "validate", bad)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, stderr, "Validation failed")

	unknown := writeScript(t, "unknown.json", `{"context": {"domain": "a.test"}, "steps": [{"kind": "hover", "selector": "#a"}]}`)
	_, stderr, err = execute(t, "validate", unknown)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, stderr, "Validation failed")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestRun_BundledExample(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "..", "examples", "checkout.yaml"))
	require.NoError(t, err)

	stdout, stderr, err := execute(t, "run", "--quiet", "-q", ".extracted_data", path)
	require.NoError(t, err, stderr)
	assert.JSONEq(t, `{"step_4_extract": "$42.00"}`, stdout)
}
