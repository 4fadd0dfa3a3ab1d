// Command bfast queries BFast applications from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/bfast/bfast-go/pkg/cli"
)

func main() {
	cmd := cli.NewCommand(cli.CommandOptions{
		Name:        "bfast",
		Description: "Query data and call functions of BFast applications",
		EnvPrefix:   "BFAST",
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
