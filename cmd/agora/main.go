package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/nidhogg/agora/internal/cli"
)

func main() {
	_ = godotenv.Load()
	if err := cli.RootCmd.Execute(); err != nil {
		cli.Fail(err)
		os.Exit(1)
	}
}
