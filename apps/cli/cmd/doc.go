// Package cmd implements the respec CLI commands using Cobra.
//
// Available commands:
//   - run: Execute checks from YAML check files
//   - validate: Parse check files without sending requests
//   - list: Display the checks defined in files
//   - mock: Serve fixture endpoints for trying checks locally
//   - init: Create a config file and an example check file
//   - history: Show runs recorded with --history
//   - version: Show version information
//
// Exit codes are listed in exitcodes.go.
package cmd
