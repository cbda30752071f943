package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Kensan196948G/ServiceGrid-sub004/cmd/cli/commands"
)

func main() {
	// .env is optional for the CLI
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
