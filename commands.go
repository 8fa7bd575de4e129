package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	"github.com/tanpawarit/relay-support-router/agent/stream"
	"github.com/tanpawarit/relay-support-router/api"
	"github.com/tanpawarit/relay-support-router/datastore"
	configx "github.com/tanpawarit/relay-support-router/pkg/config"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			httpCfg, err := configx.New[api.Config]("HTTP")
			if err != nil {
				return err
			}

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.close(closeCtx)
			}()

			srv, err := api.NewServer(*httpCfg, a.apiDeps())
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func newRouteCommand() *cobra.Command {
	var (
		userID         string
		conversationID string
		streaming      bool
	)

	cmd := &cobra.Command{
		Use:   "route [query]",
		Short: "Route and answer a single query from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			req := orchestratorx.Request{
				Query:          strings.Join(args, " "),
				UserID:         userID,
				ConversationID: conversationID,
			}
			out := cmd.OutOrStdout()

			if streaming {
				return stream.Run(ctx, a.orchestrator, req, stream.NewEncoder(out), nil)
			}

			res := a.orchestrator.Process(ctx, req)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if res.Failed() {
				log.Warn().Str("error", res.Metadata.Error).Msg("answered with fallback")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id used for tier lookup and tools")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id passed to the handler")
	cmd.Flags().BoolVar(&streaming, "stream", false, "print stream events as NDJSON")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dbCfg, err := configx.New[datastore.Config]("DB")
			if err != nil {
				return err
			}
			store, err := datastore.Open(ctx, *dbCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateSchema(ctx); err != nil {
				return err
			}
			log.Info().Msg("database schema is up to date")
			return nil
		},
	}
}
