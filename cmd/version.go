// Package cmd provides CLI commands for the pixelsmith application.
// This file implements the version command.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/pixelsmith-ai/pixelsmith/cmd.Version=v0.3.0"
var (
	Version = "dev"
	Commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pixelsmith version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pixelsmith %s (%s) %s/%s\n", Version, Commit, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
