// Package main is the entry point for the forgestamp-agent binary.
package main

import "github.com/forgestamp/forgestamp/cmd/forgestamp-agent/cmd"

func main() {
	cmd.Execute()
}
