// Command meshvoice runs the voice engine over UDP, over an in-process
// lossy loopback, or as a standalone RTT echo responder.
//
// Usage:
//
//	meshvoice call     --config meshvoice.yaml
//	meshvoice loopback --config meshvoice.yaml
//	meshvoice echo     --config meshvoice.yaml
//
// Every setting comes from the YAML file and MESHVOICE_* environment
// variables; see package config.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
