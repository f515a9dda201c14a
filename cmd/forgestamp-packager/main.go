// Package main is the entry point for the forgestamp-packager binary.
package main

import "github.com/forgestamp/forgestamp/cmd/forgestamp-packager/cmd"

func main() {
	cmd.Execute()
}
