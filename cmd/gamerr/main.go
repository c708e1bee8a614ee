// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gamerr",
		Short: "PC game release monitor",
		Long:  "Gamerr watches scene and P2P sources for releases of monitored games and hands matches to qBittorrent.",
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunVersionCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "json" {
				data, err := buildinfo.JSON()
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Println(buildinfo.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "text", "Output format: text or json")
	return cmd
}
