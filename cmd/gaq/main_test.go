package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsuji-lab/gaq/internal/cli"
)

func TestShouldPrintUsageHint(t *testing.T) {
	t.Parallel()

	require.True(t, shouldPrintUsageHint(errors.New("unknown command \"bad\" for \"gaq\"")))
	require.True(t, shouldPrintUsageHint(errors.New("unknown flag: --oops")))
	require.True(t, shouldPrintUsageHint(errors.New("accepts 1 arg(s), received 0")))
	require.False(t, shouldPrintUsageHint(errors.New("download model.bin: context deadline exceeded")))
	require.False(t, shouldPrintUsageHint(nil))
}

func TestHelpHintTarget(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "gaq", helpHintTarget(root, []string{"--badflag"}))
	require.Equal(t, "gaq", helpHintTarget(root, []string{"badcmd"}))
	require.Equal(t, "gaq serve", helpHintTarget(root, []string{"serve"}))
	require.Equal(t, "gaq serve", helpHintTarget(root, []string{"serve", "--addr"}))
}
