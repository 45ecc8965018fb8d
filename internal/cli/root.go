package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/config"
)

var (
	cfgFile      string
	envFile      string
	verbose      bool
	contextName  string
	outputFormat string

	// cfg is loaded once per invocation in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "worktime",
	Short: "Personal time tracking with background sync",
	Long: `Worktime records the time you spend on tasks.

  - Start, stop and switch work on a task per context
  - Registrations started within a minute of the previous one are glued to it
  - A background daemon triggers synchronization on a fixed interval

Start working on a task:
  worktime start design

Run the background daemon:
  worktime daemon`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{ConfigFile: cfgFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		cfg = loaded

		if err := setupLogging(&cfg.Logging); err != nil {
			return err
		}
		if err := validateOutput(outputFormat); err != nil {
			return err
		}

		if contextName == "" {
			contextName = cfg.Registration.DefaultContext
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./worktime.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default is ./.env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "registration context (default from config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// setupLogging configures zerolog from the logging config. --verbose forces
// debug level.
func setupLogging(lc *config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if lc.Output != "" {
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output: %w", err)
		}
		out = f
	}

	if lc.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logCtx := zerolog.New(out).With()
	if lc.Timestamp {
		logCtx = logCtx.Timestamp()
	}
	if lc.Caller {
		logCtx = logCtx.Caller()
	}
	log.Logger = logCtx.Logger()

	return nil
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("worktime version %s", "0.1.0-dev")
}
