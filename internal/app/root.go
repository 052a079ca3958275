// Package app wires the subcommands of the moodle-mirror CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jku-tools/moodle-mirror/internal/config"
	"github.com/jku-tools/moodle-mirror/pkg/logging"
)

var (
	cfg *config.Config

	flagConfig  string
	flagVerbose bool

	version = "dev"
)

// SetVersion records the build version shown by the version command.
func SetVersion(v string) { version = v }

var rootCmd = &cobra.Command{
	Use:   "moodle-mirror",
	Short: "Mirror courses, files and grades from the JKU Moodle portal",
	Long: `moodle-mirror signs in through the JKU single sign-on, enumerates your
courses and downloads their resources, folders, streams and quizzes into a
local directory tree. Finished downloads are remembered, so repeated runs
only fetch what is new.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main. Interrupts cancel the
// command context so in-flight downloads stop and ledgers flush.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: ~/.config/moodle-mirror/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.LogLevel
		if flagVerbose {
			level = "debug"
		}
		if err := logging.Setup(logging.Config{Level: level, File: cfg.LogFile, Pretty: true}); err != nil {
			return fmt.Errorf("configuring logging: %w", err)
		}
		log.Debug().Str("config", flagConfig).Msg("Configuration loaded")
		return nil
	}

	rootCmd.AddCommand(
		newCoursesCmd(),
		newGradesCmd(),
		newCalendarCmd(),
		newDownloadCmd(),
		newLogoutCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the moodle-mirror version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("moodle-mirror", version)
		},
	}
}
