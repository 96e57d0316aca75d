package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	emailx "github.com/tanpawarit/shopping-voice-assistant/agent/email"
	enginex "github.com/tanpawarit/shopping-voice-assistant/agent/engine"
	flowx "github.com/tanpawarit/shopping-voice-assistant/agent/flow"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	acsx "github.com/tanpawarit/shopping-voice-assistant/pkg/acs"
	configx "github.com/tanpawarit/shopping-voice-assistant/pkg/config"
	logx "github.com/tanpawarit/shopping-voice-assistant/pkg/logger"
	_ "github.com/tanpawarit/shopping-voice-assistant/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/shopping-voice-assistant/pkg/metrics"
	openrouterx "github.com/tanpawarit/shopping-voice-assistant/pkg/openrouter"
)

type AppConfig struct {
	RecipientEmail string        `envconfig:"RECIPIENT_EMAIL"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR"`
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"15m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	appCfg := configx.MustNew[AppConfig]("")
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	acsCfg := configx.MustNew[acsx.Config]("AZURE_COMMUNICATION_EMAIL")
	engineCfg := configx.MustNew[enginex.Config]("ENGINE")

	if err := emailx.CheckConfig(*acsCfg, appCfg.RecipientEmail); err != nil {
		log.Warn().Err(err).Msg("Email delivery is not fully configured; sending will fail")
	}
	gateway := emailx.New(*acsCfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metricsx.New(registry)
	if appCfg.MetricsAddr != "" {
		go func() {
			if err := metricsx.Serve(ctx, appCfg.MetricsAddr, metricsx.NewRouter(registry)); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	chatModel, err := openRouterCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chat model")
	}
	if err := openrouterx.Verify(ctx, openrouterx.NewClient(*openRouterCfg), openRouterCfg.Model); err != nil {
		log.Warn().Err(err).Msg("model preflight failed")
	}

	session := statex.NewSession(uuid.NewString(), statex.StageCollect, time.Now())
	ctx = logx.WithSession(ctx, session.ID)
	if appCfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, appCfg.SessionTimeout)
		defer cancel()
	}

	console := enginex.NewConsole(os.Stdin, os.Stdout)
	engine, err := enginex.New(chatModel, console, console, enginex.WithConfig(*engineCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dialogue engine")
	}

	controller, err := flowx.New(flowx.DefaultTable(), session, flowx.Deps{
		Speaker:   engine.Speaker(),
		Gateway:   gateway,
		Recipient: appCfg.RecipientEmail,
		Metrics:   recorder,
		Operator:  os.Stdout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid flow configuration")
	}

	handler, err := controller.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start flow")
	}

	if err := engine.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("stage", string(controller.Current())).Msg("conversation aborted")
		os.Exit(1)
	}
	log.Info().
		Str("stage", string(controller.Current())).
		Str("reason", controller.EndReason()).
		Strs("items", session.List.Items()).
		Msg("conversation finished")
}
