package main

import (
	"os"

	storyloomcmder "github.com/papercomputeco/storyloom/cmd/storyloom"
)

func main() {
	cmd := storyloomcmder.NewStoryloomCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
