package cmd

import (
	"fmt"
	"os"

	"go-synth/config"

	"github.com/spf13/cobra"
)

var (
	configDir string
	profile   string
)

// rootCmd is the top-level go-synth command. Subcommands attach themselves
// via init() in their own files, following cobra's usual registration
// pattern.
var rootCmd = &cobra.Command{
	Use:   "go-synth",
	Short: "Concurrent DragonFly/FreeBSD ports build orchestrator",
	Long: `go-synth drives a tree of ports through configure, fetch, build,
install and package stages, respecting dependency order while running as
many independent ports in parallel as the host's resources allow.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "", "configuration directory (default /etc/dsynth)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "default", "configuration profile section")
}

// loadConfig is the shared entry point every subcommand uses to obtain a
// *config.Config from the persistent --config/--profile flags.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configDir, profile)
}

// Execute runs the root command. Exit codes follow spec.md §6: 0 on full
// success, non-zero on any failed target, 254 on hard abort.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "go-synth:", err)
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		return 254
	}
	return 0
}

// exitCode lets a subcommand request a specific process exit status (e.g.
// non-zero for a failed build) while still going through cobra's normal
// error-returning Run functions.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func exitCodeOf(err error) (int, bool) {
	if ec, ok := err.(*exitCode); ok {
		return ec.code, true
	}
	return 0, false
}
