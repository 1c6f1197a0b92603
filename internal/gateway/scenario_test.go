package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/domain"
	"agentgate/internal/security"
)

// defaultDispatcher runs the built-in policy against fake capabilities.
func defaultDispatcher(t *testing.T, mode domain.Mode) (*Dispatcher, fakeRegistry) {
	t.Helper()
	pf := security.DefaultPolicy()
	pf.Mode = mode
	snap, err := security.NewSnapshot(pf, t.TempDir())
	require.NoError(t, err)

	caps := fakeRegistry{}
	for _, e := range pf.Actions {
		caps[e.ActionName] = &fakeCap{name: e.ActionName}
	}
	d := NewDispatcher(Config{
		Policy:   security.NewStore(snap, security.StoreConfig{Logger: testLogger()}),
		Registry: caps,
		Logger:   testLogger(),
	})
	return d, caps
}

func TestScenario_SystemInfoWithoutConfirmation(t *testing.T) {
	d, caps := defaultDispatcher(t, domain.ModeNormal)
	caps["get_system_info"].(*fakeCap).fn = func(context.Context, map[string]any) (any, error) {
		return map[string]any{"hostname": "box"}, nil
	}

	resp := d.Handle(context.Background(), domain.ActionRequest{ActionName: "get_system_info"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "box", resp.Result.(map[string]any)["hostname"])
	assert.NotEmpty(t, resp.RequestID)
}

func TestScenario_PythonOsSystemBlocked(t *testing.T) {
	d, caps := defaultDispatcher(t, domain.ModeNormal)

	req := domain.ActionRequest{
		ActionName: "python_exec",
		Params:     map[string]any{"code": "import os\nos.system('whoami')"},
		Confirmed:  true,
	}
	dec := d.Evaluate(req)
	assert.Equal(t, domain.OutcomeDeniedPattern, dec.Outcome)
	assert.Equal(t, "os.system", dec.MatchedPattern)

	resp := d.Handle(context.Background(), req)
	assert.Equal(t, domain.ReasonPattern, resp.Reason)
	assert.Zero(t, caps["python_exec"].(*fakeCap).calls.Load())
}

func TestScenario_FairplayDeniesCheatCategory(t *testing.T) {
	d, _ := defaultDispatcher(t, domain.ModeFairplay)

	dec := d.Evaluate(domain.ActionRequest{
		ActionName: "shell_exec",
		Params:     map[string]any{"command": "echo hi"},
		Category:   domain.CategoryCheat,
		Confirmed:  true,
	})
	assert.Equal(t, domain.OutcomeDeniedMode, dec.Outcome)
}

func TestScenario_CuriousBlocksDiscord(t *testing.T) {
	d, _ := defaultDispatcher(t, domain.ModeCurious)

	dec := d.Evaluate(domain.ActionRequest{
		ActionName: "discord_post",
		Params:     map[string]any{"content": "hello"},
		Confirmed:  true,
	})
	assert.Equal(t, domain.OutcomeDeniedMode, dec.Outcome)

	d, _ = defaultDispatcher(t, domain.ModeNormal)
	dec = d.Evaluate(domain.ActionRequest{
		ActionName: "discord_post",
		Params:     map[string]any{"content": "hello"},
		Confirmed:  true,
	})
	assert.True(t, dec.Allowed)
}

func TestScenario_ShellRmRfRootBlockedGlobally(t *testing.T) {
	d, _ := defaultDispatcher(t, domain.ModeNormal)

	dec := d.Evaluate(domain.ActionRequest{
		ActionName: "shell_exec",
		Params:     map[string]any{"command": "rm -rf /"},
		Confirmed:  true,
	})
	assert.Equal(t, domain.OutcomeDeniedPattern, dec.Outcome)
}
