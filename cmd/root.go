package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face enrollment and recognition service",
	Long: `Facegate enrolls people from a handful of photos and recognizes them later.

Faces are turned into 128-dimensional descriptors with dlib, a calibrated linear
SVM is trained over every enrolled person, and recognition answers with the
matching person or a rejection. Person records live in PostgreSQL or MariaDB.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
