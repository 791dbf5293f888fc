package main

import (
	"fmt"
	"runtime"

	"github.com/inferloop/dashengine/pkg/constants"
)

// Set with -ldflags "-X main.Version=... -X main.GitCommit=... -X main.BuildDate=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is printed by the version subcommand.
type BuildInfo struct {
	Name      string
	Version   string
	GitCommit string
	BuildDate string
	Runtime   string
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Name:      constants.AppName,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Runtime:   fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)\n", b.Name, b.Version, b.GitCommit, b.BuildDate, b.Runtime)
}
