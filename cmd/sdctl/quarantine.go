package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var quarantineCommand = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and manage quarantined files",
}

var quarantineListCommand = &cobra.Command{
	Use:   "list",
	Short: "List quarantined files",
	Run:   cmd.Mainify(quarantineListMain),
}

var quarantineRestoreConfiguration struct {
	overwrite bool
}

var quarantineRestoreCommand = &cobra.Command{
	Use:   "restore <record-id>",
	Short: "Restore a quarantined file to its original location",
	Run:   cmd.Mainify(quarantineRestoreMain),
}

var quarantinePurgeCommand = &cobra.Command{
	Use:   "purge <record-id>",
	Short: "Permanently delete a quarantined file",
	Run:   cmd.Mainify(quarantinePurgeMain),
}

func init() {
	quarantineRestoreCommand.Flags().BoolVar(&quarantineRestoreConfiguration.overwrite, "overwrite", false, "Overwrite the original path if it already exists")
	quarantineCommand.AddCommand(quarantineListCommand, quarantineRestoreCommand, quarantinePurgeCommand)
}

func quarantineListMain(command *cobra.Command, arguments []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.QuarantineList()
	if err != nil {
		return fmt.Errorf("unable to list quarantine records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no quarantined files")
		return nil
	}
	for _, r := range records {
		restorable := "restorable"
		if !r.CanRestore {
			restorable = "can_restore=false"
		}
		fmt.Printf("%s\t%s\t%s\t%d bytes\t%s\n", r.ID, r.Family, r.OriginalPath, r.Size, restorable)
	}
	return nil
}

func quarantineRestoreMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return fmt.Errorf("exactly one record ID is required")
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	sessionID, err := client.AcquireElevation([]string{"quarantine.restore"})
	if err != nil {
		return fmt.Errorf("unable to acquire an elevation session: %w", err)
	}
	if err := client.QuarantineRestore(sessionID, arguments[0], quarantineRestoreConfiguration.overwrite); err != nil {
		return fmt.Errorf("unable to restore quarantined file: %w", err)
	}
	fmt.Println("restored:", arguments[0])
	return nil
}

func quarantinePurgeMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return fmt.Errorf("exactly one record ID is required")
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.QuarantinePurge(arguments[0]); err != nil {
		return fmt.Errorf("unable to purge quarantined file: %w", err)
	}
	fmt.Println("purged:", arguments[0])
	return nil
}
