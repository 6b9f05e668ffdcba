// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Command benji is the CLI surface over the backup engine: every
// subcommand is a thin wrapper that loads configuration, builds the
// engine, invokes exactly one core operation, and maps the resulting
// error kind to a stable exit code.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storj.io/benji/pkg/benjierrs"
	"storj.io/benji/pkg/config"
	"storj.io/benji/pkg/engine"
	"storj.io/benji/pkg/logging"
)

// Exit codes. Stable: scripts and the operator depend on them.
const (
	exitOK            = 0
	exitUsage         = 1
	exitConfiguration = 2
	exitAlreadyLocked = 3
	exitScrub         = 4
	exitIO            = 5
	exitInternal      = 6
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "benji:", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case benjierrs.Usage.Has(err):
		return exitUsage
	case benjierrs.Configuration.Has(err):
		return exitConfiguration
	case benjierrs.AlreadyLocked.Has(err):
		return exitAlreadyLocked
	case benjierrs.Scrubbing.Has(err) || benjierrs.InputData.Has(err):
		return exitScrub
	case benjierrs.StorageIO.Has(err) || benjierrs.IsNotFound(err):
		return exitIO
	default:
		return exitInternal
	}
}

type app struct {
	configPath string
	log        *zap.Logger
	eng        *engine.Engine
	close      func()
}

// setup loads configuration and builds the engine; called from every
// subcommand's RunE so that "benji --help" works without a config file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.log, err = logging.New(cfg.LogLevel)
	if err != nil {
		return benjierrs.Configuration.Wrap(err)
	}
	eng, _, closeFn, err := buildEngine(cmd.Context(), a.log, cfg)
	if err != nil {
		return err
	}
	a.eng = eng
	a.close = closeFn
	return nil
}

func (a *app) teardown() {
	if a.close != nil {
		a.close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "benji",
		Short:         "deduplicating block-level backups to object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "path to the configuration file")

	root.AddCommand(
		newBackupCmd(a),
		newRestoreCmd(a),
		newScrubCmd(a, false),
		newScrubCmd(a, true),
		newCleanupCmd(a),
		newEnforceCmd(a),
		newRmCmd(a),
		newLsCmd(a),
		newProtectCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

func defaultConfigPath() string {
	v := viper.New()
	v.SetEnvPrefix("BENJI")
	v.AutomaticEnv()
	v.SetDefault("CONFIG", "/etc/benji/benji.yaml")
	return v.GetString("CONFIG")
}

// parseHints parses the "-hints" flag value: a comma-separated list of
// offset:length[:exists] extents, or the literal "none" for an explicit
// empty hint list ("nothing changed").
func parseHints(s string) ([]engine.Hint, error) {
	if s == "" {
		return nil, nil
	}
	if s == "none" {
		return []engine.Hint{}, nil
	}
	var hints []engine.Hint
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, benjierrs.Usage.New("malformed hint %q, want offset:length[:exists]", part)
		}
		off, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, benjierrs.Usage.New("malformed hint offset %q", fields[0])
		}
		length, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, benjierrs.Usage.New("malformed hint length %q", fields[1])
		}
		exists := true
		if len(fields) == 3 {
			exists, err = strconv.ParseBool(fields[2])
			if err != nil {
				return nil, benjierrs.Usage.New("malformed hint exists flag %q", fields[2])
			}
		}
		hints = append(hints, engine.Hint{Offset: off, Length: length, Exists: exists})
	}
	return hints, nil
}

func parseLabels(pairs []string) (map[string]string, error) {
	labels := map[string]string{}
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, benjierrs.Usage.New("malformed label %q, want name=value", pair)
		}
		labels[name] = value
	}
	return labels, nil
}

func newBackupCmd(a *app) *cobra.Command {
	var base, storage, hintsFlag string
	var blockSize int64
	var labelFlags []string

	cmd := &cobra.Command{
		Use:   "backup <volume> <snapshot> <source-url>",
		Short: "back up a snapshot into a new version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()

			hints, err := parseHints(hintsFlag)
			if err != nil {
				return err
			}
			labels, err := parseLabels(labelFlags)
			if err != nil {
				return err
			}
			v, err := a.eng.Backup(cmd.Context(), engine.BackupRequest{
				Volume: args[0], Snapshot: args[1], Source: args[2],
				Hints: hints, Base: base, Storage: storage, BlockSize: blockSize, Labels: labels,
			})
			if err != nil {
				return err
			}
			text, err := a.eng.ExportMetadata(cmd.Context(), []string{v.UID})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base version UID for a differential backup")
	cmd.Flags().StringVar(&storage, "storage", "", "destination storage (default from config)")
	cmd.Flags().StringVar(&hintsFlag, "hints", "", `change hints: "off:len[:exists],..." or "none"`)
	cmd.Flags().Int64Var(&blockSize, "block-size", 0, "block size in bytes (default from config)")
	cmd.Flags().StringArrayVarP(&labelFlags, "label", "l", nil, "label name=value (repeatable)")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var sparse, force bool

	cmd := &cobra.Command{
		Use:   "restore <version-uid> <target-url>",
		Short: "restore a version to a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			return a.eng.Restore(cmd.Context(), engine.RestoreRequest{
				Version: args[0], Target: args[1], Sparse: sparse, Force: force,
			})
		},
	}
	cmd.Flags().BoolVar(&sparse, "sparse", false, "skip writing sparse blocks instead of writing zeros")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing target")
	return cmd
}

func newScrubCmd(a *app, deep bool) *cobra.Command {
	var source string
	var percentile int

	use, short := "scrub <version-uid>", "verify a version's envelope metadata"
	if deep {
		use, short = "deep-scrub <version-uid>", "verify a version's payloads block by block"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			req := engine.ScrubRequest{Version: args[0], Source: source, Percentile: percentile}
			if deep {
				return a.eng.DeepScrub(cmd.Context(), req)
			}
			return a.eng.Scrub(cmd.Context(), req)
		},
	}
	cmd.Flags().IntVar(&percentile, "percentile", 100, "verify only this percentage of blocks")
	if deep {
		cmd.Flags().StringVar(&source, "source", "", "also compare blocks against this source URL")
	}
	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "delete objects dereferenced by removed versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			return a.eng.Cleanup(cmd.Context(), grace)
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", time.Hour, "leave tombstones younger than this alone")
	return cmd
}

func newEnforceCmd(a *app) *cobra.Command {
	var filterExpr, groupLabel string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "enforce <rules>",
		Short: "apply a retention policy, removing expired versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			removed, err := a.eng.EnforceRetention(cmd.Context(), engine.EnforceRequest{
				Filter: filterExpr, Rules: args[0], GroupLabel: groupLabel, DryRun: dryRun,
			})
			for _, uid := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), uid)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "only consider versions matching this filter expression")
	cmd.Flags().StringVar(&groupLabel, "group-label", "", "expire versions sharing this label's value together")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without removing")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	var force, override bool

	cmd := &cobra.Command{
		Use:   "rm <version-uid>...",
		Short: "remove versions, leaving their objects for cleanup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			var firstErr error
			for _, uid := range args {
				if err := a.eng.RemoveVersion(cmd.Context(), uid, force, override); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "rm %s: %v\n", uid, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), uid)
			}
			return firstErr
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove protected versions too")
	cmd.Flags().BoolVar(&override, "override-lock", false, "evict a lock held by another process")
	return cmd
}

func newLsCmd(a *app) *cobra.Command {
	var filterExpr, volume string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "list versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			versions, err := a.eng.ListVersions(cmd.Context(), filterExpr, volume)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %-20s %-20s %-12s %10s %s\n", "UID", "VOLUME", "SNAPSHOT", "STATUS", "SIZE", "CREATED")
			for _, v := range versions {
				fmt.Fprintf(w, "%-12s %-20s %-20s %-12s %10d %s\n",
					v.UID, v.Volume, v.Snapshot, v.Status, v.Size, v.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression")
	cmd.Flags().StringVar(&volume, "volume", "", "restrict to one volume")
	return cmd
}

func newProtectCmd(a *app) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "protect <version-uid>...",
		Short: "protect versions from removal and retention",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			for _, uid := range args {
				if err := a.eng.Protect(cmd.Context(), uid, !clear); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the protected flag instead of setting it")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata-export <version-uid>...",
		Short: "print the export document for versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			text, err := a.eng.ExportMetadata(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata-import <file>",
		Short: "recreate versions from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			defer a.teardown()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return benjierrs.Usage.Wrap(err)
			}
			imported, err := a.eng.ImportMetadata(cmd.Context(), string(data))
			for _, uid := range imported {
				fmt.Fprintln(cmd.OutOrStdout(), uid)
			}
			return err
		},
	}
}
