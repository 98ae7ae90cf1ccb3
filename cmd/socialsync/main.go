// socialsync synchronises contacts, calendars and notifications from social
// network providers into a local SQLite store.
//
// Usage:
//
//	socialsync init                          # write a config file interactively
//	socialsync accounts add                  # register a provider account
//	socialsync daemon [--config <path>]      # sync every profile on the poll interval
//	socialsync sync-once [profile]           # single pass then exit
//	socialsync status                        # show config, accounts and last results
//	socialsync version                       # print version
package main

import (
	"log/slog"
	"os"

	"github.com/njoerd114/socialsync/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
