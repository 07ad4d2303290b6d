package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "sync", "status", "version"} {
		assert.True(t, names[want], "expected subcommand %q", want)
	}
}

func TestVersionCmd_PrintsVersion(t *testing.T) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "specmemd version")
}

func TestResolveProjectPath_FlagWins(t *testing.T) {
	t.Setenv("SPECMEM_PROJECT_PATH", "/from/env")
	projectFlag = "/from/flag"
	t.Cleanup(func() { projectFlag = "" })

	got, err := resolveProjectPath()
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", got)
}

func TestResolveProjectPath_EnvFallback(t *testing.T) {
	t.Setenv("SPECMEM_PROJECT_PATH", "/from/env")
	projectFlag = ""

	got, err := resolveProjectPath()
	require.NoError(t, err)
	assert.Equal(t, "/from/env", got)
}
