// Package cmd implements the hydropi command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries the state every subcommand shares once PersistentPreRunE ran.
type app struct {
	cfgFile string
	envFile string
	v       *viper.Viper
	cfg     *controller.Config
	log     *zap.Logger
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: controller.NewViper()}
	root := &cobra.Command{
		Use:           "hydropi",
		Short:         "Hydroponics controller driven by a generative model behind fixed safety bounds.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./hydropi.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().Bool("dev", false, "simulate sensors and actuators")
	root.PersistentFlags().String("log-level", "", "override logging.level")
	_ = a.v.BindPFlag("dev_mode", root.PersistentFlags().Lookup("dev"))
	_ = a.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newRunCmd(a), newServeCmd(a), newHistoryCmd(a), newConfigCmd(a))
	return root, a
}

func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("/etc/hydropi")
		a.v.SetConfigName("hydropi")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	cfg, err := controller.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.Initialize(cfg.Logging)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.Debug("Loaded config", zap.String("file", used))
	}
	return nil
}

// Execute runs the command line until ctx is done.
func Execute(ctx context.Context, args []string) error {
	root, _ := newRootCmd()
	root.SetArgs(args)
	defer logging.Sync()
	return root.ExecuteContext(ctx)
}
