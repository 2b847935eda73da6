// Command certsweep finds HTTPS endpoints whose certificates the host does
// not trust.
package main

import (
	"github.com/anstrom/certsweep/cmd/cli"
	"github.com/anstrom/certsweep/internal/api/handlers"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.buildTime=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
