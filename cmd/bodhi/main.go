// Command bodhi is the thin CLI wrapper around the gateway server: it
// parses flags, loads configuration, and hands off to run. The model
// management subcommands (list/pull/create/run/show/cp/rm/edit/envs)
// are out of scope for the core request
// path and are not implemented here.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/bodhi.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("bodhi", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
