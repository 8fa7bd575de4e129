package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	handlerx "github.com/tanpawarit/relay-support-router/agent/agents/handler"
	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	routerx "github.com/tanpawarit/relay-support-router/agent/agents/router"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	llmx "github.com/tanpawarit/relay-support-router/agent/llm"
	promptx "github.com/tanpawarit/relay-support-router/agent/prompt"
	statex "github.com/tanpawarit/relay-support-router/agent/state"
	toolx "github.com/tanpawarit/relay-support-router/agent/tool"
	"github.com/tanpawarit/relay-support-router/api"
	"github.com/tanpawarit/relay-support-router/datastore"
	configx "github.com/tanpawarit/relay-support-router/pkg/config"
	openrouterx "github.com/tanpawarit/relay-support-router/pkg/openrouter"
	qstashx "github.com/tanpawarit/relay-support-router/pkg/qstash"
	"github.com/tanpawarit/relay-support-router/pkg/telemetry"
)

type AppConfig struct {
	// MetricsWebhookURL is the public URL of /api/internal/metrics. When set,
	// routing metrics go through QStash instead of straight to the database.
	MetricsWebhookURL string `envconfig:"METRICS_WEBHOOK_URL"`
}

type app struct {
	store        *datastore.Store
	orchestrator *orchestratorx.Orchestrator
	tierCache    *statex.TierCache
	qstash       *qstashx.Client
	probe        func(ctx context.Context) error
	metricsURL   string
	shutdown     telemetry.Shutdown
}

func buildApp(ctx context.Context) (*app, error) {
	appCfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, err
	}

	telCfg, err := configx.New[telemetry.Config]("OTEL")
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Init(ctx, *telCfg, version)
	if err != nil {
		return nil, err
	}

	a := &app{shutdown: shutdown, metricsURL: strings.TrimSpace(appCfg.MetricsWebhookURL)}
	if err := a.wire(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	dbCfg, err := configx.New[datastore.Config]("DB")
	if err != nil {
		return err
	}
	a.store, err = datastore.Open(ctx, *dbCfg)
	if err != nil {
		return err
	}

	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return err
	}

	registry, err := handlerx.Build(ctx, *llmCfg, toolx.NewSources(a.store))
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}

	routerEngine, err := llmx.EngineFor(ctx, *llmCfg, contractx.HandlerRouter)
	if err != nil {
		return err
	}
	catalog, err := promptx.LoadCatalog()
	if err != nil {
		return err
	}
	classifier, err := routerx.New(ctx, routerEngine, promptx.LoadPromptSet().Router, catalog)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	var tiers contractx.TierResolver = a.store
	redisCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if err != nil {
		return err
	}
	if redisCfg.Enabled() {
		a.tierCache, err = statex.NewTierCache(*redisCfg, a.store)
		if err != nil {
			return err
		}
		tiers = a.tierCache
		log.Info().Msg("user tier cache enabled")
	}

	var sink contractx.MetricsSink = a.store
	if a.metricsURL != "" {
		qCfg, err := configx.New[qstashx.Config]("QSTASH")
		if err != nil {
			return fmt.Errorf("metrics webhook needs qstash settings: %w", err)
		}
		a.qstash, err = qstashx.NewClient(*qCfg)
		if err != nil {
			return err
		}
		sink, err = qstashx.NewMetricsSink(a.qstash, a.metricsURL)
		if err != nil {
			return err
		}
		log.Info().Str("destination", a.metricsURL).Msg("routing metrics delivered through qstash")
	}

	a.orchestrator, err = orchestratorx.New(classifier, registry,
		orchestratorx.WithTierResolver(tiers),
		orchestratorx.WithMetricsSink(sink),
	)
	if err != nil {
		return err
	}

	probeCfg := llmCfg.OpenRouterFor(contractx.HandlerRouter)
	client := openrouterx.NewClient(probeCfg)
	a.probe = func(ctx context.Context) error {
		return openrouterx.Probe(ctx, client, probeCfg.Model)
	}
	return nil
}

func (a *app) apiDeps() api.Deps {
	deps := api.Deps{
		Processor:          a.orchestrator,
		Store:              a.store,
		EngineProbe:        a.probe,
		MetricsDestination: a.metricsURL,
	}
	if a.tierCache != nil {
		deps.Tiers = a.tierCache
	}
	if a.qstash != nil {
		deps.Verifier = a.qstash
	}
	return deps
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("shutdown finished with errors")
	}
}
