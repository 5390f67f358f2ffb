// Package main provides the go-video-trace CLI entry point.
//
// go-video-trace reconstructs video playback from captured HTTP traffic:
// it parses the HLS, DASH and Smooth Streaming manifests found in a trace,
// matches every media download to the segment it carried and infers
// startup delay, stalls and quality switches.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-video-trace
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "go-video-trace",
		Short:         "Reconstruct video playback from captured streaming traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (TOML)")

	root.AddCommand(newAnalyzeCommand(&configPath))
	root.AddCommand(newInspectCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "go-video-trace %s\n", version)
		},
	}
}
