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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/atlas/services/atlas"
)

var (
	errNotFound   = errors.New("instance not found")
	errNotLoaded  = errors.New("instance did not load")
	errNeedsYes   = errors.New("refusing to delete without --yes")
	errDuplicate  = errors.New("duplicate failed")
	errDeleteFail = errors.New("delete failed")
)

// withRuntime opens a runtime, scans the worlds root and runs fn. The
// runtime is closed afterwards, which unloads (and saves) anything fn
// loaded.
func withRuntime(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer rt.Close(ctx)

	if _, err := rt.atlas.ScanFolder(ctx, rt.cfg.WorldsRoot); err != nil {
		rt.printer.Error(err.Error())
		return err
	}
	return fn(ctx, rt)
}

func (rt *runtime) mustLookup(name string) (*atlas.Instance, error) {
	inst, ok := rt.atlas.Lookup(name)
	if !ok {
		rt.printer.Error(fmt.Sprintf("No instance named %q under %s", name, rt.cfg.WorldsRoot))
		return nil, fmt.Errorf("%w: %s", errNotFound, name)
	}
	return inst, nil
}

func infos(instances []*atlas.Instance) []atlas.Info {
	out := make([]atlas.Info, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Info())
	}
	return out
}

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the instances under the worlds root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				rt.printer.InstanceTable(infos(rt.atlas.Instances()))
				return nil
			})
		},
	}
}

func newScanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [root]",
		Short: "Register every marked directory under a root",
		Long: `Scan registers each immediate subdirectory of root that contains the
identity marker. Unmarked directories are reported and skipped. Root
defaults to the configured worlds root.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if len(args) == 0 {
					rt.printer.InstanceTable(infos(rt.atlas.Instances()))
					return nil
				}
				found, err := rt.atlas.ScanFolder(ctx, args[0])
				if err != nil {
					rt.printer.Error(err.Error())
					return err
				}
				rt.printer.InstanceTable(infos(found))
				return nil
			})
		},
	}
}

func newLoadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <name>",
		Short: "Load an instance and apply its settings",
		Long: `Load creates the world for an instance, applies worldsettings.yml and
reports the result. The world is saved and unloaded when the command exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				inst, err := rt.mustLookup(args[0])
				if err != nil {
					return err
				}
				fut, err := rt.atlas.Load(ctx, inst)
				if err != nil {
					rt.printer.Error(err.Error())
					return err
				}
				waitCtx, cancel := context.WithTimeout(ctx, rt.cfg.Server.LoadWait)
				defer cancel()
				ok, err := fut.Wait(waitCtx)
				if err != nil {
					rt.printer.Error("Timed out waiting for " + inst.Name() + " to load")
					return err
				}
				if !ok {
					rt.printer.Error("Could not load " + inst.Name())
					return fmt.Errorf("%w: %s", errNotLoaded, inst.Name())
				}
				id, _ := inst.Identity()
				rt.printer.Success(fmt.Sprintf("Loaded %s (%s)", inst.Name(), id))
				return nil
			})
		},
	}
}

func newDuplicateCmd(opts *globalOptions) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "duplicate <name>",
		Short: "Copy an instance's directory to a new sibling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				inst, err := rt.mustLookup(args[0])
				if err != nil {
					return err
				}
				target := parent
				if target == "" {
					target = rt.cfg.WorldsRoot
				}
				dup, ok := rt.atlas.Duplicate(ctx, inst, target)
				if !ok {
					rt.printer.Error("Could not duplicate " + inst.Name())
					return fmt.Errorf("%w: %s", errDuplicate, inst.Name())
				}
				rt.printer.Success(fmt.Sprintf("Duplicated %s to %s", inst.Name(), dup.Directory()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "directory to copy into (default: the worlds root)")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Unload an instance without saving and remove its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNeedsYes
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				inst, err := rt.mustLookup(args[0])
				if err != nil {
					return err
				}
				if !rt.atlas.Delete(ctx, inst) {
					rt.printer.Error("Could not delete " + inst.Name())
					return fmt.Errorf("%w: %s", errDeleteFail, inst.Name())
				}
				rt.printer.Success("Deleted " + inst.Name())
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newRulesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the game rules the engine supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			rt.printer.RuleTable(rt.atlas.Rules().Definitions())
			return nil
		},
	}
}
