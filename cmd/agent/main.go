// Package main provides the entry point for the cybervision-siem agent.
// The agent tails the Wazuh alert log, classifies and enriches qualifying
// alerts and forwards them to the SIEM ingestion service.
package main

import (
	"os"

	"cybervision-siem/cmd/agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
