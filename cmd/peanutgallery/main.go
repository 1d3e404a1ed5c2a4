package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/mwatts/peanutgallery/internal/cli"
)

func main() {
	// Endpoint credentials usually live in a local .env during development.
	_ = godotenv.Load()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
