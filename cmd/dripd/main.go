package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clahage/my-clever-crm-sub002/internal/cli"
)

var rootCmd = &cobra.Command{Use: "dripd"}

func main() {
	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "Database connection string")
	cli.SetupCLI(rootCmd)
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
