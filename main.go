package main

import (
	"github.com/safiul0073/CodeLift/cmd"
	"github.com/safiul0073/CodeLift/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
