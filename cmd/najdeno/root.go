package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erazemk/najdeno/internal/config"
	"github.com/erazemk/najdeno/internal/logging"
)

// app carries state shared by the subcommands.
type app struct {
	cfg      *config.Config
	closeLog func()

	configPath string
	dbPath     string
	addr       string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "najdeno",
		Short: "Lost & found service with automatic photo matching",
		Long: `najdeno lets people post lost and found items. When a new item's photo
closely resembles an item of the opposite kind and the descriptions agree,
both owners are notified by email.

Running najdeno without a subcommand starts the server.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
		RunE:               a.runServe,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file (default: $NAJDENO_CONFIG)")
	flags.StringVarP(&a.dbPath, "db", "d", "", "SQLite database path")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVarP(&a.logFile, "log", "l", "", "also append logs to this file")
	root.Flags().StringVarP(&a.addr, "addr", "a", "", "listen address")

	root.AddCommand(a.serveCmd(), a.initCmd(), a.reembedCmd())
	return root
}

// setup loads the configuration, applies flags on top and installs logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = a.dbPath
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = a.addr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log") {
		cfg.Log.File = a.logFile
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	closeLog, err := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.closeLog = closeLog
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.closeLog != nil {
		a.closeLog()
	}
	return nil
}
