package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/pkg/version"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	expected := []string{"serve", "ingest", "query", "chat", "tickets", "status", "version"}
	for _, name := range expected {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, "subcommand %s", name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestNewRootCmd_Flags(t *testing.T) {
	root := NewRootCmd()

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}

func TestRootCmd_Version(t *testing.T) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "corpora version "+version.Version+"\n", buf.String())
}

func TestVersionCmd(t *testing.T) {
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "corpora version "+version.Version)
	assert.Contains(t, buf.String(), "commit")
}
