package main

import (
	"github.com/robotalks/stxlink/pkg/cli/sh"
	"github.com/robotalks/stxlink/pkg/l0/env"

	_ "github.com/robotalks/stxlink/pkg/cli/cmds/device"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
