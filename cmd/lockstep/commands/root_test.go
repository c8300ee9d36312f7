package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/lockstep/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the real root command with args and returns what it wrote.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	printer.SetOutput(io.Discard, io.Discard)
	t.Cleanup(func() { printer.SetOutput(nil, nil) })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	// A nil slice would make cobra fall back to the test binary's os.Args
	rootCmd.SetArgs(append([]string{}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags()
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag variable so commands run in one test
// do not leak into the next.
func resetFlags() {
	configPath = defaultConfigPath
	serveAddr, serveLogFile = "", ""
	sessionsOutput, sessionsStatuses = "table", nil
	sessionsSince, sessionsUntil, sessionsGraph, sessionsParticipant = "", "", "", ""
	sessionsActive = false
	rewardsOutput, rewardsSession, rewardsStatus = "table", "", ""
	rewardsStuck = false
	watchOutputFormat, watchAfter = "default", 0
	forceInit = false

	unset := func(f *pflag.Flag) { f.Changed = false }
	rootCmd.PersistentFlags().VisitAll(unset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(unset)
	}
}

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	output, err := execute(t)

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "lockstep", "Help should show command name")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")

	assert.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags tests that flags meant for
// subcommands are rejected when passed to the root command
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use: "lockstep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}
	rewards := &cobra.Command{
		Use:  "rewards",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	rewards.Flags().Bool("stuck", false, "")
	testRoot.AddCommand(rewards)

	testRoot.SetArgs([]string{"--stuck"})
	testRoot.SetOut(io.Discard)
	testRoot.SetErr(io.Discard)

	err := testRoot.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "validate", "sessions", "rewards", "watch", "init"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-10-29")

	assert.Equal(t, "1.2.3 (commit: abc123, built: 2025-10-29)", rootCmd.Version)
}

func TestLoadConfig_FallsBackToEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOCKSTEP_INSTANCE", "from-env")
	t.Setenv("REDIS_URL", "redis://cache:6380")

	cfg, err := loadConfig(newConfigCmd())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Instance)
	assert.Equal(t, "redis://cache:6380", cfg.RedisURL)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTimeout)
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte(`version: "1.0"
instance: from-file
sessions:
  max_participants: 2
`), 0644))

	cfg, err := loadConfig(newConfigCmd())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Instance)
	assert.Equal(t, 2, cfg.Sessions.MaxParticipants)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	printer.SetOutput(io.Discard, io.Discard)
	t.Cleanup(func() { printer.SetOutput(nil, nil) })

	cmd := newConfigCmd()
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yml")))

	_, err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	printer.SetOutput(io.Discard, io.Discard)
	t.Cleanup(func() { printer.SetOutput(nil, nil) })

	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte(`version: "2.0"`), 0644))

	_, err := loadConfig(newConfigCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

// newConfigCmd returns a command carrying a fresh --config flag bound to configPath.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	configPath = defaultConfigPath
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "")
	return cmd
}
