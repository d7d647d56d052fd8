package main

import (
	"os"

	"github.com/LambdaTest/flakewatch/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
