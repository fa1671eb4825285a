package cmd

import (
	"fmt"

	"go-synth/service"
	"go-synth/util"

	"github.com/spf13/cobra"
)

var flagDBBackup bool

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Manage the build-history database",
	RunE:  runDatabase,
}

func init() {
	databaseCmd.Flags().BoolVar(&flagDBBackup, "backup", false, "back up the database before resetting it")
	rootCmd.AddCommand(databaseCmd)
}

func runDatabase(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if !cfg.YesAll && !util.AskYN(fmt.Sprintf("Reset the build-history database at %s?", cfg.Database.Path), false) {
		fmt.Println("Aborted.")
		return nil
	}

	svc, err := service.NewService(cfg)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer svc.Close()

	if flagDBBackup {
		path, err := svc.BackupDatabase()
		if err != nil {
			return err
		}
		fmt.Println("Backed up to", path)
	}

	result, err := svc.ResetDatabase()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d file(s)\n", len(result.FilesRemoved))
	return nil
}
