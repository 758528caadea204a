// Package cmd provides CLI commands for the pixelsmith application.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pixelsmith",
	Short: "Pixelsmith - AI retro game asset generation",
	Long: `Pixelsmith turns a short game concept into a coherent set of retro
game assets: a style guide, sprites, tiles, deterministic sprite
variations, a narrative, character dialogue, and voice lines.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
