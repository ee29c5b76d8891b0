package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/Iron-Ham/foreman/internal/cmd/config"
	"github.com/Iron-Ham/foreman/internal/config"
)

// rootOptions carries state shared by every subcommand of one root.
type rootOptions struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
}

// NewRootCmd builds the foreman command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "foreman",
		Short: "Worker-pool task coordinator and progress monitor",
		Long: `Foreman assigns issues to a bounded pool of workers, tracks each
work order from assignment to completion, and persists the pool so that
several foreman processes can share it safely.

State lives under coordinator.work_orders_path (default .foreman). Mutating
commands load the state, apply one change and save it back while holding
the coordinator lock.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default is $HOME/.config/foreman/config.yaml)")
	pf.String("project", "", "project ID (default: name of the current directory)")
	pf.String("state-dir", "", "state directory (overrides coordinator.work_orders_path)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	_ = opts.v.BindPFlag("project", pf.Lookup("project"))
	_ = opts.v.BindPFlag("coordinator.work_orders_path", pf.Lookup("state-dir"))
	_ = opts.v.BindPFlag("logging.level", pf.Lookup("log-level"))

	registerWorkCmds(root, opts)
	registerStatusCmd(root, opts)
	registerReportCmd(root, opts)
	registerWatchCmd(root, opts)
	registerMetricsCmd(root, opts)
	cmdconfig.Register(root, opts)

	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// load reads the config file, if any, and validates the merged settings.
func (o *rootOptions) load() error {
	if err := o.ReadConfig(); err != nil {
		return err
	}
	cfg, err := config.LoadFrom(o.v)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// Viper returns the settings shared by the command tree.
func (o *rootOptions) Viper() *viper.Viper { return o.v }

// ReadConfig reads the config file into the settings without validating.
func (o *rootOptions) ReadConfig() error {
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return err
		}
	} else {
		o.v.SetConfigName("config")
		o.v.SetConfigType("yaml")
		o.v.AddConfigPath(config.ConfigDir())
		o.v.AddConfigPath(".")

		// A missing config file is fine; a malformed one is not.
		if err := o.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
		}
	}
	return nil
}

// projectID returns the --project flag or the working directory's name.
func (o *rootOptions) projectID() (string, error) {
	if id := o.v.GetString("project"); id != "" {
		return id, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Base(cwd), nil
}
