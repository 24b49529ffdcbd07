package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var cancelCommand = &cobra.Command{
	Use:   "cancel <group-id>",
	Short: "Cancel an in-progress scan group",
	Run:   cmd.Mainify(cancelMain),
}

func cancelMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return fmt.Errorf("exactly one scan group ID is required")
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Cancel(arguments[0]); err != nil {
		return fmt.Errorf("unable to cancel scan group: %w", err)
	}
	fmt.Println("cancelled:", arguments[0])
	return nil
}
