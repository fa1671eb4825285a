package cmd

import (
	"fmt"

	"go-synth/service"
	"go-synth/util"

	"github.com/spf13/cobra"
)

var flagAutoMigrate bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the go-synth build environment",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&flagAutoMigrate, "migrate", false, "automatically migrate legacy CRC data if found")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	svc, err := service.NewService(cfg)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Close()

	result, err := svc.Initialize(service.InitOptions{AutoMigrate: flagAutoMigrate})
	if err != nil {
		return err
	}

	fmt.Printf("Created %d directories, found %d ports\n", len(result.DirsCreated), result.PortsFound)
	if result.MigrationNeeded && !result.MigrationPerformed {
		migrate := flagAutoMigrate
		if !migrate && (cfg.YesAll || util.AskYN("Legacy CRC data found; import it now?", false)) {
			migrate = true
		}
		if migrate {
			result, err = svc.Initialize(service.InitOptions{AutoMigrate: true})
			if err != nil {
				return err
			}
		} else {
			fmt.Println("Legacy CRC data found; re-run with --migrate to import it")
		}
	}
	for _, w := range result.Warnings {
		fmt.Println("warning:", w)
	}
	return nil
}
