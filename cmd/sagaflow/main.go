package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bumahkib7/vernont-backend-sub007/internal/cli"
	"github.com/bumahkib7/vernont-backend-sub007/internal/storage"
)

var rootCmd = &cobra.Command{Use: "sagaflow"}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or failed to load: %v. Using --db flag.\n", err)
	}
	rootCmd.PersistentFlags().String("db", storage.ConnStrFromEnv(), "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
