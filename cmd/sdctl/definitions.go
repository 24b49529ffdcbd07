package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var definitionsCommand = &cobra.Command{
	Use:   "definitions",
	Short: "Manage engine detection definitions",
}

var definitionsUpdateCommand = &cobra.Command{
	Use:   "update",
	Short: "Trigger every engine to reload its detection definitions",
	Run:   cmd.Mainify(definitionsUpdateMain),
}

func init() {
	definitionsCommand.AddCommand(definitionsUpdateCommand)
}

func definitionsUpdateMain(command *cobra.Command, arguments []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.UpdateDefinitions(); err != nil {
		return fmt.Errorf("unable to update definitions: %w", err)
	}
	fmt.Println("definitions updated")
	return nil
}
