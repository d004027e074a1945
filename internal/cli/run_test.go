package cli_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrtcode/title-fingerprint-db/internal/cli"
)

func TestRunRequiresDBDir(t *testing.T) {
	var out, errOut strings.Builder

	code := cli.Run(&out, &errOut, []string{"titlefpd", "-p", "8080"}, nil)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "-d <db_directory> is required")
}

func TestRunRequiresPort(t *testing.T) {
	var out, errOut strings.Builder

	code := cli.Run(&out, &errOut, []string{"titlefpd", "-d", t.TempDir()}, nil)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "-p <port> is required")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var out, errOut strings.Builder

	code := cli.Run(&out, &errOut, []string{"titlefpd", "--bogus"}, nil)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "error:")
}

func TestRunHelp(t *testing.T) {
	var out, errOut strings.Builder

	code := cli.Run(&out, &errOut, []string{"titlefpd", "--help"}, nil)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "Usage: titlefpd")
	require.Empty(t, errOut.String())
}
