package main

import (
	"os"

	"go-synth/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
