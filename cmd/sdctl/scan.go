package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var scanConfiguration struct {
	recursive bool
}

var scanCommand = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a file or directory",
	Run:   cmd.Mainify(scanMain),
}

func init() {
	flags := scanCommand.Flags()
	flags.BoolVarP(&scanConfiguration.recursive, "recursive", "r", true, "Scan directories recursively")
}

func scanMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return fmt.Errorf("exactly one path argument is required")
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	groupID, err := client.Scan(arguments[0], scanConfiguration.recursive)
	if err != nil {
		return fmt.Errorf("unable to start scan: %w", err)
	}
	fmt.Println("scan started:", groupID)
	return nil
}
