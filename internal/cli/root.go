// Package cli implements the gophsync command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/daemon"
)

// BuildInfo is the version information set via ldflags during build.
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// options holds the global flags.
type options struct {
	configPath string
	root       string
	db         string
	driver     string
	listen     string
	logLevel   string
	peers      []string
	logJSON    bool
}

// NewRootCommand builds the gophsync command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "gophsync",
		Short: "Peer-to-peer file synchronization daemon",
		// Ошибку печатает Execute, поэтому cobra ее не выводит
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to config file")
	flags.StringVar(&opts.root, "root", "", "sync root directory")
	flags.StringVar(&opts.db, "db", "", "path to database file")
	flags.StringVar(&opts.driver, "driver", "", "storage driver (bolt, sqlite)")
	flags.StringVar(&opts.listen, "listen", "", "peer endpoint address")
	flags.StringSliceVar(&opts.peers, "peers", nil, "peer URLs")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log in JSON format")

	cmd.AddCommand(
		newInitCommand(opts),
		newRunCommand(opts, build),
		newScanCommand(opts, build),
		newActivityCommand(opts, build),
		newVersionsCommand(opts, build),
		newHashCommand(opts, build),
		newStoreCommand(opts, build),
		newVersionCommand(build),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(build BuildInfo) int {
	if err := NewRootCommand(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gophsync.yaml"
	}
	return filepath.Join(dir, "gophsync", "config.yaml")
}

// loadConfig reads the config file and applies the flags given on the command line.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(cmd, cfg)
	return cfg, nil
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = o.root
	}
	if flags.Changed("db") {
		cfg.Storage.Path = o.db
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver = o.driver
	}
	if flags.Changed("listen") {
		cfg.Peer.Listen = o.listen
	}
	if flags.Changed("peers") {
		cfg.Peer.Peers = o.peers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
}

// withDaemon opens the engine without watching the root or serving peers,
// runs fn and closes the engine.
func (o *options) withDaemon(cmd *cobra.Command, build BuildInfo, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	// Разовые команды по умолчанию пишут в лог только предупреждения
	if !cmd.Flags().Changed("log-level") {
		if level, lerr := cfg.LogLevel(); lerr == nil && level < slog.LevelWarn {
			cfg.Log.Level = "warn"
		}
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	d, err := daemon.New(ctx, cfg, daemon.Options{Version: build.Version}, logger)
	if err != nil {
		return err
	}

	runErr := fn(ctx, d)
	if err := d.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
