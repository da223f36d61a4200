// beaconwatch: BLE beacon ranging node and relay
//
// Usage:
//
//	beaconwatch scan   range beacons from the local adapter and/or relays
//	beaconwatch relay  forward local advertisements to a ranging node
//	beaconwatch list   show the beacons a running node sees
package main

import (
	"fmt"
	"os"
	"strings"

	"beaconwatch/cmd/list"
	"beaconwatch/cmd/relay"
	"beaconwatch/cmd/scan"
)

const (
	defaultSystemPath = "/etc/beaconwatch/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath, args := extractConfigFlag(os.Args[1:])

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "scan":
		err = scan.Run(configPath)
	case "relay":
		err = relay.Run(configPath)
	case "list":
		err = list.Run(configPath, args[1:])
	case "edit":
		err = scan.EditConfig(configPath)
	case "version":
		fmt.Printf("beaconwatch v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// extractConfigFlag removes --config <path> or --config=<path> from args.
func extractConfigFlag(args []string) (string, []string) {
	var (
		configPath string
		rest       []string
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
			continue
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			configPath = v
			continue
		}
		rest = append(rest, arg)
	}
	return configPath, rest
}

func printUsage() {
	fmt.Printf(`beaconwatch v%s - BLE Beacon Ranging

Usage:
  beaconwatch <command> [--config <path>]

Commands:
  scan     Start a ranging node (local BLE adapter and/or relay listener)
  relay    Scan locally and forward frames to a ranging node
  list     Show beacons in range (--history, --active for the archive)
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Signals (scan):
  SIGUSR1  switch to background ranging period
  SIGUSR2  switch back to foreground ranging period

Examples:
  beaconwatch scan                      # Range with default config
  beaconwatch list                      # Print beacons the node sees
  beaconwatch list --history            # Print every archived beacon

`, version, defaultSystemPath)
}
