package main

import (
	"github.com/joho/godotenv"

	"feed-attestor/internal/cli"
)

func main() {
	// .env is optional; real deployments inject ATTESTOR_* directly
	_ = godotenv.Load()
	cli.Execute()
}
