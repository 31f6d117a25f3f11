package container

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNestsCommand(t *testing.T) {
	spec := &Spec{ExecCommand: "devcontainer exec  --workspace-folder ."}
	name, args := Runtime{}.Wrap(spec, "/wt", "claude", []string{"--resume"})

	assert.Equal(t, "devcontainer", name)
	assert.Equal(t, []string{"exec", "--workspace-folder", ".", "--", "claude", "--resume"}, args)
}

func TestWrapFallbackNestsIdentically(t *testing.T) {
	spec := &Spec{ExecCommand: "docker exec -it box"}
	rt := Runtime{}

	name1, args1 := rt.Wrap(spec, "/wt", "claude", []string{"--resume"})
	name2, args2 := rt.Wrap(spec, "/wt", "claude", nil)

	assert.Equal(t, name1, name2)
	assert.Equal(t, args1[:len(args1)-1], args2)
}

func TestWrapDisabled(t *testing.T) {
	for _, spec := range []*Spec{nil, {}, {UpCommand: "true", ExecCommand: "  "}} {
		name, args := Runtime{}.Wrap(spec, "/wt", "codex", []string{"-a"})
		assert.Equal(t, "codex", name)
		assert.Equal(t, []string{"-a"}, args)
	}
}

func TestUp(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()

	require.NoError(t, Runtime{}.Up(context.Background(), nil, dir))
	require.NoError(t, Runtime{}.Up(context.Background(), &Spec{UpCommand: "test -d ."}, dir))

	err := Runtime{}.Up(context.Background(), &Spec{UpCommand: "echo broken >&2; exit 4"}, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestUpTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	err := Runtime{}.Up(context.Background(), &Spec{UpCommand: "sleep 5", UpTimeout: 50 * time.Millisecond}, t.TempDir())
	assert.ErrorIs(t, err, ErrUpTimeout)
}

func TestCheckAvailable(t *testing.T) {
	assert.ErrorIs(t, CheckAvailable(nil), ErrNoExecCommand)
	assert.ErrorIs(t, CheckAvailable(&Spec{ExecCommand: "worktree-deck-no-such-runtime exec"}), ErrRuntimeNotFound)
	if _, err := exec.LookPath("sh"); err == nil {
		assert.NoError(t, CheckAvailable(&Spec{ExecCommand: "sh -c"}))
	}
}

func TestShellJoinArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"claude", "--resume"}, "claude --resume"},
		{[]string{"echo", "hello world"}, "echo 'hello world'"},
		{[]string{"sh", "-c", "it's"}, `sh -c 'it'"'"'s'`},
		{[]string{""}, "''"},
		{[]string{"KEY=a:b,c/d.e"}, "KEY=a:b,c/d.e"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShellJoinArgs(tt.args))
	}
}
