// Package main is the entry point for the forgestamp-fleet binary.
package main

import "github.com/forgestamp/forgestamp/cmd/forgestamp-fleet/cmd"

func main() {
	cmd.Execute()
}
