package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	t.Run("should expose the expected subcommands", func(t *testing.T) {
		root := GetRootCmd()

		names := make(map[string]bool)
		for _, cmd := range root.Commands() {
			names[cmd.Name()] = true
		}

		assert.True(t, names["start"])
		assert.True(t, names["status"])
	})

	t.Run("should report a version", func(t *testing.T) {
		require.NotEmpty(t, GetVersion())
		assert.Equal(t, GetVersion(), GetRootCmd().Version)
	})

	t.Run("should register the global flags", func(t *testing.T) {
		flags := GetRootCmd().PersistentFlags()

		assert.NotNil(t, flags.Lookup("config"))
		assert.NotNil(t, flags.Lookup("log-level"))
	})
}
