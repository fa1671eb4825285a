package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-synth/port"
	"go-synth/service"

	"github.com/spf13/cobra"
)

var (
	flagBatch       bool
	flagDefines     []string
	flagFetchOnly   bool
	flagNoOp        bool
	flagPackage     bool
	flagInstall     bool
	flagUpdate      bool
	flagIndex       bool
	flagMonitorWait int
	flagForce       bool
)

var buildCmd = &cobra.Command{
	Use:   "build [ports...] [KEY=VALUE...]",
	Short: "Build specified ports and their dependencies",
	Long: `Build drives one or more port origins, and everything they depend
on, through configure/fetch/build/install(/package) in dependency order.

Positional arguments are either port origins (category/name) or KEY=VALUE
pairs, which are routed into the make(1) environment for every dispatch.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&flagBatch, "batch", "b", false, "batch mode: skip the interactive config stage")
	buildCmd.Flags().StringArrayVarP(&flagDefines, "define", "D", nil, "define a build-tool variable (make -D KEY)")
	buildCmd.Flags().BoolVarP(&flagFetchOnly, "fetch-only", "f", false, "fetch only, do not build")
	buildCmd.Flags().BoolVarP(&flagNoOp, "no-op", "n", false, "no-op: resolve and report without running anything")
	buildCmd.Flags().BoolVarP(&flagPackage, "package", "p", false, "package after install")
	buildCmd.Flags().BoolVarP(&flagInstall, "install", "i", false, "install after build")
	buildCmd.Flags().BoolVarP(&flagUpdate, "update", "u", false, "update (alias for install; last of -i/-u wins)")
	buildCmd.Flags().BoolVar(&flagIndex, "index", false, "generate the tree's one-line-per-port index instead of building")
	buildCmd.Flags().IntVarP(&flagMonitorWait, "wait", "w", 1, "numeric-monitor delay in seconds")
	buildCmd.Flags().BoolVar(&flagForce, "force", false, "force rebuild even if the port is up to date")

	rootCmd.AddCommand(buildCmd)
}

// splitArgs separates positional origins from KEY=VALUE environment
// passthrough pairs, per spec.md §6.
func splitArgs(args []string) (origins []string, vars []string) {
	for _, a := range args {
		if strings.Contains(a, "=") {
			vars = append(vars, a)
		} else {
			origins = append(origins, a)
		}
	}
	return origins, vars
}

// resolveMode turns the batch of build-mode flags into the scheduler's
// drive-to stage and the package tool's run mode, applying -i/-u last-wins
// per spec.md §6.
func resolveMode(cmd *cobra.Command) (mode string, minStage port.Stage) {
	mode, minStage = "install", port.StageInstall

	if flagFetchOnly {
		mode, minStage = "fetch", port.StageFetch
	}
	if flagNoOp {
		mode = "noop"
	}
	if flagPackage {
		mode, minStage = "package", port.StagePackage
	}

	// -i/-u last-wins: whichever flag appears last on the command line
	// takes effect, both meaning "install".
	lastWins := ""
	cmd.Flags().Visit(func(f *cobra.Flag) {
		if f.Name == "install" || f.Name == "update" {
			lastWins = f.Name
		}
	})
	if lastWins != "" && !flagPackage && !flagFetchOnly {
		mode, minStage = "install", port.StageInstall
	}

	return mode, minStage
}

// startHeartbeat prints a running-time marker every waitSec seconds, per
// spec.md §6's `-w SEC` numeric-monitor delay. It returns a stop function
// that halts the ticker goroutine.
func startHeartbeat(waitSec int) func() {
	if waitSec <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(waitSec) * time.Second)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("... building (%s elapsed)\n", time.Since(start).Round(time.Second))
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func runBuild(cmd *cobra.Command, args []string) error {
	origins, vars := splitArgs(args)

	if flagIndex {
		return runIndex()
	}

	if len(origins) == 0 {
		return fmt.Errorf("no ports specified")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	mode, minStage := resolveMode(cmd)
	cfg.Mode = mode
	cfg.MinStage = int(minStage)

	svc, err := service.NewService(cfg)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived signal %v, cleaning up...\n", sig)
		if cleanup := svc.GetActiveCleanup(); cleanup != nil {
			cleanup()
		}
		os.Exit(254)
	}()

	extraArgs := make([]string, 0, len(flagDefines)*2+len(vars))
	for _, d := range flagDefines {
		extraArgs = append(extraArgs, "-D"+d)
	}
	extraArgs = append(extraArgs, vars...)

	stopHeartbeat := startHeartbeat(flagMonitorWait)
	defer stopHeartbeat()

	result, err := svc.Build(service.BuildOptions{
		PortList:  origins,
		Force:     flagForce,
		ExtraArgs: extraArgs,
	})
	if err != nil {
		return &exitCode{code: 254, err: err}
	}

	fmt.Printf("\nBuild summary: %d ports touched, %d installed, %d failed (%s)\n",
		len(result.Origins), len(result.Installed), len(result.Failed), result.Duration.Round(1e9))

	if len(result.Failed) > 0 {
		for _, origin := range result.Failed {
			fmt.Printf("  FAILED: %s\n", origin)
		}
		return &exitCode{code: 1, err: fmt.Errorf("%d port(s) failed", len(result.Failed))}
	}

	return nil
}
