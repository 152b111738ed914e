package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["search"])
	assert.True(t, names["download"])
	assert.True(t, names["library"])
}

func TestLibraryCmd_HasExpectedFlags(t *testing.T) {
	for _, flag := range []string{"setup", "scan", "monitor", "list", "list-pending", "stats", "manual", "download"} {
		assert.NotNil(t, libraryCmd.Flags().Lookup(flag), "expected --%s flag", flag)
	}
}
