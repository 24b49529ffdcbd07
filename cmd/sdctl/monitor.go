package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xanados/searchdestroy-core/cmd"
)

var monitorCommand = &cobra.Command{
	Use:   "monitor",
	Short: "Control and observe real-time filesystem monitoring",
}

var monitorStartCommand = &cobra.Command{
	Use:   "start",
	Short: "Start real-time monitoring",
	Run:   cmd.Mainify(monitorStartMain),
}

var monitorStopCommand = &cobra.Command{
	Use:   "stop",
	Short: "Stop real-time monitoring",
	Run:   cmd.Mainify(monitorStopMain),
}

var monitorEventsCommand = &cobra.Command{
	Use:   "events",
	Short: "Stream events from the daemon until interrupted",
	Run:   cmd.Mainify(monitorEventsMain),
}

func init() {
	monitorCommand.AddCommand(monitorStartCommand, monitorStopCommand, monitorEventsCommand)
}

func monitorStartMain(command *cobra.Command, arguments []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.MonitorStart(); err != nil {
		return fmt.Errorf("unable to start monitoring: %w", err)
	}
	fmt.Println("monitoring started")
	return nil
}

func monitorStopMain(command *cobra.Command, arguments []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.MonitorStop(); err != nil {
		return fmt.Errorf("unable to stop monitoring: %w", err)
	}
	fmt.Println("monitoring stopped")
	return nil
}

func monitorEventsMain(command *cobra.Command, arguments []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.Subscribe()
	if err != nil {
		return fmt.Errorf("unable to subscribe to events: %w", err)
	}
	for raw := range events {
		var pretty map[string]interface{}
		if err := json.Unmarshal(raw, &pretty); err != nil {
			continue
		}
		encoded, _ := json.Marshal(pretty)
		fmt.Println(string(encoded))
	}
	return nil
}
