// Command sdctl is a command-line client for a running sdcored daemon,
// useful for local testing and scripting against the scanning core without a
// GUI.
package main

import (
	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var rootCommand = &cobra.Command{
	Use:   "sdctl",
	Short: "sdctl controls a running sdcored scanning daemon",
	Run:   cmd.Mainify(rootMain),
}

func rootMain(command *cobra.Command, arguments []string) error {
	return command.Help()
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(
		scanCommand,
		cancelCommand,
		quarantineCommand,
		monitorCommand,
		definitionsCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
