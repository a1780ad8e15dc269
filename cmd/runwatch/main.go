// runwatch - sequencing run status inference.
//
// Build with: go build -ldflags "-X github.com/rescale/runwatch/internal/version.Version=vX.Y.Z" ./cmd/runwatch
package main

import (
	"os"

	"github.com/rescale/runwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
