package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/relay-support-router/pkg/config"
	logx "github.com/tanpawarit/relay-support-router/pkg/logger"
	_ "github.com/tanpawarit/relay-support-router/pkg/logger/autoload"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envPath string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Customer-support chat router",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configx.SetEnvPath(envPath)
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envPath, "env", "", "path to .env file")

	root.AddCommand(newServeCommand(), newRouteCommand(), newMigrateCommand())
	return root
}
