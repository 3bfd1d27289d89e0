package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
)

func main() {
	var configPath = flag.String("config", DefaultConfigPath, "Path to the configuration file")
	var monitorAddr = flag.String("monitor", "", "Serve the live monitor on this address (e.g. :8080)")
	flag.Parse()

	facade := NewFacade()
	facade.ConfigPath = *configPath

	handler := NewCommandHandler(facade, os.Stdout)
	var monitor *Monitor

	fmt.Println("Type 'help' to see available commands.")
	fmt.Println("Type 'initialize' to set up the system.")

	scanner := bufio.NewScanner(os.Stdin)
	for handler.ShouldContinue() {
		fmt.Print("Enter command:  ")
		if !scanner.Scan() {
			facade.Shutdown()
			break
		}
		handler.Execute(scanner.Text())

		if monitor == nil && *monitorAddr != "" && facade.Ready() {
			monitor = NewMonitor(facade)
			monitor.Start(*monitorAddr)
		}
	}
}
