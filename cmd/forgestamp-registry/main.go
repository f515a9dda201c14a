// Package main is the entry point for the forgestamp-registry binary.
package main

import "github.com/forgestamp/forgestamp/cmd/forgestamp-registry/cmd"

func main() {
	cmd.Execute()
}
