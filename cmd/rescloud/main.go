package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/rescloud/rescloud/servermaster"
)

type options struct {
	configFile string
	statusAddr string
	logLevel   string

	cfg *servermaster.Config
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "rescloud",
		Short:         "Hands out exclusive resources to queued requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.complete(cmd)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "path to the config file, TOML or YAML")
	flags.StringVar(&o.statusAddr, "status-addr", "", "override the status address of the config")
	flags.StringVarP(&o.logLevel, "log-level", "L", "", "override the log level of the config")

	cmd.AddCommand(newRunCmd(o), newSimulateCmd(o), newConfigCmd(o))
	return cmd
}

// complete loads the config and sets up the global logger.
func (o *options) complete(cmd *cobra.Command) error {
	cfg := servermaster.NewConfig()
	if o.configFile != "" {
		if err := cfg.ConfigFromFile(o.configFile); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.StatusAddr = o.statusAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, props, err := log.InitLogger(cfg.LogConfig())
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)
	o.cfg = cfg
	return nil
}

func (o *options) newApp(extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.L().Named("fx")}
		}),
		servermaster.Module(o.cfg),
	}
	return fx.New(append(opts, extra...)...)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "rescloud: %v\n", err)
		os.Exit(1)
	}
}
