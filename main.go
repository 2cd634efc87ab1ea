package main

import (
	"os"

	"github.com/chairside/chairside/cmd"
	"github.com/chairside/chairside/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(cmd.Execute(buildinfo.NewContext(version, buildDate, "")))
}
