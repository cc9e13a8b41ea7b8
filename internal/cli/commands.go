package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/daemon"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/internal/versionctl"
)

func newInitCommand(opts *options) *cobra.Command {
	var (
		device string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init <root>",
		Short: "Create the config file of this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("config %s already exists, use --force to overwrite", opts.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve sync root: %w", err)
			}

			cfg := config.Default(root)
			cfg.Device = models.DeviceID(device)
			if cfg.Device == "" {
				cfg.Device = models.NewDeviceID()
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device: %s\n", cfg.Device)
			fmt.Fprintf(out, "Root:   %s\n", cfg.Root)
			fmt.Fprintf(out, "Config: %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device id (generated when empty)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newRunCommand(opts *options, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, cfg, daemon.Options{Version: build.Version}, logger)
			if err != nil {
				return err
			}

			runErr := d.Run(ctx)
			if err := d.Close(); err != nil {
				logger.Error("failed to close daemon", "error", err)
			}
			return runErr
		},
	}
}

func newScanCommand(opts *options, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the sync root with the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, build, func(ctx context.Context, d *daemon.Daemon) error {
				if err := d.Reconcile(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scan complete.")
				return nil
			})
		},
	}
}

func newActivityCommand(opts *options, build BuildInfo) *cobra.Command {
	var (
		after int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDaemon(cmd, build, func(ctx context.Context, d *daemon.Daemon) error {
				rows, err := d.Activity(ctx, after, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), "activity", rows)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "show rows with index greater than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of rows")
	return cmd
}

func newVersionsCommand(opts *options, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <store>",
		Short: "Show the local and known versions of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := parseStore(args[0])
			if err != nil {
				return err
			}
			return opts.withDaemon(cmd, build, func(ctx context.Context, d *daemon.Daemon) error {
				keys, err := d.Versions(ctx, store)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), "versions", struct {
					Store    models.StoreID
					Greatest crdt.Tick
					Keys     []versionctl.KeyVersions
				}{store, d.GreatestTick(), keys})
			})
		},
	}
}

func newHashCommand(opts *options, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <store> <path>",
		Short: "Compute the content hash of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := parseStore(args[0])
			if err != nil {
				return err
			}
			rel := filepath.ToSlash(args[1])

			return opts.withDaemon(cmd, build, func(ctx context.Context, d *daemon.Daemon) error {
				hash, err := d.HashFile(ctx, store, rel)
				if err != nil {
					return err
				}
				info, err := os.Stat(d.MasterPath(store, rel))
				if err != nil {
					return fmt.Errorf("failed to stat file: %w", err)
				}
				return render(cmd.OutOrStdout(), "hash", struct {
					Store models.StoreID
					Path  string
					Hash  models.ContentHash
					Size  uint64
				}{store, rel, hash, uint64(info.Size())})
			})
		},
	}
}

func newStoreCommand(opts *options, build BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stores",
	}

	storeOp := func(use, short, done string, op func(d *daemon.Daemon, ctx context.Context, store models.StoreID) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <store>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := parseStore(args[0])
				if err != nil {
					return err
				}
				return opts.withDaemon(cmd, build, func(ctx context.Context, d *daemon.Daemon) error {
					if err := op(d, ctx, store); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Store %s %s.\n", store, done)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		storeOp("delete", "Forget the versions of a store, keeping them for restore", "deleted", (*daemon.Daemon).DeleteStore),
		storeOp("restore", "Restore the versions of a deleted store", "restored", (*daemon.Daemon).RestoreStore),
	)
	return cmd
}

func newVersionCommand(build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gophsync %s\n", build.Version)
			fmt.Fprintf(out, "Build date: %s\n", build.BuildDate)
			fmt.Fprintf(out, "Git commit: %s\n", build.GitCommit)
		},
	}
}

func parseStore(s string) (models.StoreID, error) {
	if err := validation.ValidateStoreID(s); err != nil {
		return "", err
	}
	return models.StoreID(s), nil
}
