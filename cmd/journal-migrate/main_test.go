package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseArgsUp(t *testing.T) {
	opts, err := parseArgs([]string{"-database", "postgres://x", "-quiet", "up"})
	require.NoError(t, err)
	require.Equal(t, "up", opts.command)
	require.True(t, opts.quiet)
	require.Equal(t, defaultTimeout, opts.timeout)
}

func TestParseArgsDownSteps(t *testing.T) {
	opts, err := parseArgs([]string{"-database", "postgres://x", "-timeout", "5s", "down", "3"})
	require.NoError(t, err)
	require.Equal(t, "down", opts.command)
	require.Equal(t, 3, opts.steps)
	require.Equal(t, 5*time.Second, opts.timeout)

	opts, err = parseArgs([]string{"-database", "postgres://x", "down"})
	require.NoError(t, err)
	require.Equal(t, 1, opts.steps)
}

func TestParseArgsErrors(t *testing.T) {
	t.Setenv("BRIDGE_JOURNAL_DSN", "")
	cases := map[string][]string{
		"missing dsn":     {"up"},
		"missing command": {"-database", "postgres://x"},
		"bad steps":       {"-database", "postgres://x", "down", "zero"},
		"negative steps":  {"-database", "postgres://x", "down", "-1"},
		"unknown command": {"-database", "postgres://x", "sideways"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseArgs(args)
			require.Error(t, err)
		})
	}
}

func TestParseArgsReadsDSNFromEnv(t *testing.T) {
	t.Setenv("BRIDGE_JOURNAL_DSN", "postgres://env")
	opts, err := parseArgs([]string{"up"})
	require.NoError(t, err)
	require.Equal(t, "postgres://env", opts.dsn)
}
