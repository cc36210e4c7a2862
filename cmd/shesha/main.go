package main

import (
	"os"

	"github.com/Tshabani/shesha-core/internal/cli/commands"
	"github.com/Tshabani/shesha-core/internal/discovery"
	"github.com/Tshabani/shesha-core/internal/store"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// coreModule declares the framework's own entities
var coreModule = discovery.NewModule("github.com/Tshabani/shesha-core/internal/store",
	store.EntityConfig{}, store.EntityProperty{})

func main() {
	commands.Version = Version
	commands.GitCommit = GitCommit
	commands.BuildDate = BuildDate
	commands.GoVersion = GoVersion

	discovery.Register(coreModule)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
