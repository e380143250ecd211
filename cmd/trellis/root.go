package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/config"
	"github.com/jacentio/trellis-odm/store"
)

// app holds the collaborators shared by every command.
type app struct {
	configFile string

	cfg        config.Config
	logger     *zap.Logger
	store      store.Store
	closeStore func() error
	sink       *analytics.Sink
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trellis",
		Short:         "Inspect and edit trellis documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.flush(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to a configuration file (yaml, toml or json)")

	cmd.AddCommand(
		newGetCmd(a),
		newDeleteCmd(a),
	)
	return cmd
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(viper.New(), a.configFile)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	if err != nil {
		return err
	}
	st, closeStore, err := cfg.OpenStore(cmd.Context(), logger)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.store = st
	a.closeStore = closeStore
	a.sink = cfg.NewSink()
	return nil
}

// flush persists the analytics recorded by the command when a Redis
// persister is configured.
func (a *app) flush(cmd *cobra.Command) error {
	if a.cfg.Analytics.RedisAddr == "" {
		return nil
	}
	flusher, closeRedis, err := a.cfg.NewFlusher(a.sink, a.logger)
	if err != nil {
		return err
	}
	return multierr.Append(flusher.Flush(cmd.Context()), closeRedis())
}

func (a *app) release() error {
	if a.closeStore == nil {
		return nil
	}
	err := a.closeStore()
	a.closeStore = nil
	return err
}
