// Command tearoom runs the tearoom server and its operator tooling.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Optional local overrides; real deployments set the environment directly.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
