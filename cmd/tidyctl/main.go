// Package main is the tidyctl command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/tidyflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorLine(err))
		os.Exit(1)
	}
}
