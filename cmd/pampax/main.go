// Package main provides the entry point for the pampax CLI.
package main

import (
	"os"

	"github.com/pampax-dev/pampax/cmd/pampax/cmd"
	pxerrors "github.com/pampax-dev/pampax/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(pxerrors.ExitCode(err))
	}
}
