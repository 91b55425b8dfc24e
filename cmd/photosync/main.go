// Package main provides the PhotoSync CLI entry point.
// PhotoSync maintains a canonical, service-agnostic metadata record for every
// photo a user owns across remote photo services.
package main

import (
	"fmt"
	"os"

	"github.com/photosync/photosync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
