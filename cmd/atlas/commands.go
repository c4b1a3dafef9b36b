// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"

	"github.com/spf13/cobra"
)

// globalOptions holds persistent flags.
type globalOptions struct {
	configPath  string
	personality string // UX personality level (full/minimal/machine)
	logLevel    string
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "atlas",
		Short: "Manage world instances and their settings",
		Long: `Atlas discovers world directories, loads them into the engine with
their worldsettings.yml applied, and copies, unloads, or deletes them.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.atlas/atlas.yaml or $ATLAS_CONFIG)")
	root.PersistentFlags().StringVar(&opts.personality, "personality", "", "output style: full, minimal, or machine")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newListCmd(opts),
		newScanCmd(opts),
		newLoadCmd(opts),
		newDuplicateCmd(opts),
		newDeleteCmd(opts),
		newRulesCmd(opts),
		newServeCmd(opts),
	)
	return root
}
