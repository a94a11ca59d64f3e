package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Best-effort: API keys may live in a local .env during development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
