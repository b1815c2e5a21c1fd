package main

import (
	"github.com/sidkik/picosync/cmd"
	"github.com/sidkik/picosync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
