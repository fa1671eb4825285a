package cmd

import (
	"fmt"

	"go-synth/service"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale worker directories and mounts",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	svc, err := service.NewService(cfg)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Close()

	result, err := svc.Cleanup(service.CleanupOptions{})
	if err != nil {
		return err
	}

	fmt.Printf("Cleaned %d worker directories\n", result.WorkersCleaned)
	for _, e := range result.Errors {
		fmt.Println("warning:", e)
	}
	return nil
}
