package cmd

import (
	"fmt"

	"go-synth/service"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [ports...]",
	Short: "Show build-history status for one or more ports, or the whole database",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	svc, err := service.NewService(cfg)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Close()

	result, err := svc.GetStatus(service.StatusOptions{PortList: args})
	if err != nil {
		return err
	}

	if result.Stats != nil {
		fmt.Printf("Builds: %d  Packages: %d  CRC entries: %d  Database: %d bytes\n",
			result.Stats.BuildCount, result.Stats.PackageCount, result.Stats.CRCCount, result.Stats.DatabaseSize)
		return nil
	}

	for _, p := range result.Ports {
		if p.LastBuild == nil {
			fmt.Printf("%-40s  never built\n", p.PortDir)
			continue
		}
		fmt.Printf("%-40s  %-8s  %s\n", p.PortDir, p.LastBuild.Status, p.LastBuild.EndTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}
