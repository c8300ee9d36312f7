package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "lockstep.yml"

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Lockstep - chat-driven escape room sessions with Anna",
	Long: `Lockstep runs multiplayer escape room sessions in which a small group
of players talk to Anna, an AI character who holds the keys.

Player messages are interpreted into intents, applied to a deterministic
puzzle state machine, and narrated back in character. Session state, world
events and rewards are kept on a Redis blackboard so a restarted server
picks up where it left off.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to lockstep.yml")
}

// loadConfig reads the configuration named by --config. When the flag was left
// at its default and no such file exists, configuration comes from the environment.
func loadConfig(cmd *cobra.Command) (*config.LockstepConfig, error) {
	explicit := cmd.Flags().Changed("config")

	if _, err := os.Stat(configPath); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, printer.Error(
					"invalid environment configuration",
					err.Error(),
					[]string{"Check LOCKSTEP_* and REDIS_URL variables, or create lockstep.yml"},
				)
			}
			return cfg, nil
		}
		return nil, printer.ErrorWithContext(
			"config file not found",
			fmt.Sprintf("Cannot read %s.", configPath),
			map[string]string{"error": err.Error()},
			[]string{"Pass the path explicitly:\n  lockstep --config path/to/lockstep.yml"},
		)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"config": configPath},
			nil,
		)
	}
	return cfg, nil
}
