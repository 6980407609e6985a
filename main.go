package main

import (
	"os"

	"peerchat/cmd"
	"peerchat/logger"
)

func main() {
	logger.Init(os.Stdout)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
