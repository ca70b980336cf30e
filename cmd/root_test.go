// -- cmd/root_test.go --
package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"], "run subcommand should be registered")
	assert.True(t, names["oneshot"], "oneshot subcommand should be registered")
}

func TestVersionFlagPrintsBareVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version, strings.TrimSpace(out.String()))
}

func TestOneshotRequiresGoalArgument(t *testing.T) {
	err := oneshotCmd.Args(oneshotCmd, []string{})
	assert.Error(t, err)

	err = oneshotCmd.Args(oneshotCmd, []string{"open", "settings"})
	assert.NoError(t, err)
}

func TestPersistentFlagsExist(t *testing.T) {
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("dry-run"))
}
