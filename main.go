package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/luigi-home/luigid/cmd"
	"github.com/luigi-home/luigid/internal/config"
)

// Overridden at build time via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", "", "Configuration file (default "+config.DefaultPath+")")
		startFlags.StringVar(configFile, "c", "", "Configuration file (short)")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := ""
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "user":
		if len(os.Args) < 4 || os.Args[2] != "add" {
			fmt.Fprintln(os.Stderr, "Usage: luigid user add <username> [--config <file>]")
			os.Exit(1)
		}
		userFlags := flag.NewFlagSet("user add", flag.ExitOnError)
		configFile := userFlags.String("config", "", "Configuration file (default "+config.DefaultPath+")")
		userFlags.StringVar(configFile, "c", "", "Configuration file (short)")
		userFlags.Parse(os.Args[4:])

		if err := cmd.RunUserAdd(*configFile, os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "User add failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("luigid version %s\n", version)
		fmt.Printf("Build: %s\n", buildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`luigid - local control plane for managed host modules

Usage:
  luigid <command> [options]

Commands:
  start     Run the daemon in the foreground
            Options: --config (-c) <file>
  check     Validate configuration, registry and credentials
            Options: --verbose (-v), [config-file]
  user add  Add or replace an API credential (password read from stdin)
            Options: --config (-c) <file>
  version   Print version info

Examples:
  luigid start
  luigid start --config /etc/luigi/luigid.yaml
  luigid check -v
  luigid user add admin
`)
}
