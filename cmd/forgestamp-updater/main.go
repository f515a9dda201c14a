// Package main is the entry point for the forgestamp-updater binary.
package main

import "github.com/forgestamp/forgestamp/cmd/forgestamp-updater/cmd"

func main() {
	cmd.Execute()
}
