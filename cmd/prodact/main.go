// Command prodact logs analytics events and user properties through the
// sinks listed in a configuration file.
//
// Usage:
//
//	prodact --config prodact.yaml event --prop query=go search
//	prodact set --once cohort 2024-W10
//	prodact add launches 1
//	prodact unset launches
//	prodact clear
//
// Without a configuration file, calls are written to a log sink on stderr.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
