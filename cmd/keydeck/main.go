// Package main is the entry point for the keydeck controller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagFilters  []string
)

func main() {
	root := &cobra.Command{
		Use:     "keydeck",
		Short:   "Filesystem-driven controller for multi-key control surfaces",
		Long:    "keydeck turns a directory tree into the live configuration of a\nmulti-key control surface: directory and file names encode pages, keys,\nimages, text lines and event triggers, and the running process keeps the\nrendered state consistent with the tree.",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (YAML or TOML)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringArrayVar(&flagFilters, "filter", nil,
		"entity filter: page=<ref>, key=<ref>, or no<kind> to deny a kind")

	root.AddCommand(
		newRunCmd(),
		newPreviewCmd(),
		newMakeDirsCmd(),
		newPageCmd(),
		newBrightnessCmd(),
		newInspectCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
