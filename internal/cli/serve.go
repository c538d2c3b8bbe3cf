package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	api "github.com/alarmpipe/alarmpipe/internal/api/v2"
	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/datastore"
	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/mqtt"
	"github.com/alarmpipe/alarmpipe/internal/observability"
	"github.com/alarmpipe/alarmpipe/internal/outbound"
	"github.com/alarmpipe/alarmpipe/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alarm engine",
		Long: `Connect to the MQTT broker, restore stored alarm definitions and evaluate
incoming measurements until interrupted. SIGINT or SIGTERM shuts down
gracefully, flushing queued alarm events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			log, closer, err := newLogger(settings.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, settings, opts.version, log)
		},
	}
}

// runServe wires storage, MQTT, outbound sinks, the engine and the HTTP API,
// then blocks until ctx is cancelled or a component fails.
func runServe(ctx context.Context, settings *conf.Settings, version string, log logger.Logger) error {
	if err := telemetry.Init(settings.Sentry.DSN, settings.Sentry.Environment, version); err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}
	defer telemetry.Flush(2 * time.Second)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	deps := alerting.Dependencies{Metrics: metrics}

	if settings.Store.Enabled {
		debug := strings.EqualFold(settings.Log.Level, "debug")
		db, err := datastore.Open(settings.Store.Driver, settings.Store.DSN, debug)
		if err != nil {
			return err
		}
		defer func() {
			if err := datastore.Close(db); err != nil {
				log.Warn("failed to close store", logger.Error(err))
			}
		}()
		deps.Definitions = repository.NewDocumentRepository(db, entities.CollectionDefinitions)
		deps.Alarms = repository.NewDocumentRepository(db, entities.CollectionAlarms)
		deps.Handlers = append(deps.Handlers, outbound.NewStoreSink(deps.Alarms, metrics, log).HandleAlarm)
	}

	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(settings.MQTT, log)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Disconnect()

		sink := outbound.NewMQTTSink(client, settings.MQTT.Topics, metrics, log)
		deps.Subscriber = client
		deps.Handlers = append(deps.Handlers, sink.HandleAlarm)
		if settings.MQTT.Topics.Notifications != "" {
			deps.Notifier = sink
		}
	}

	if settings.Webhook.Enabled {
		deps.Handlers = append(deps.Handlers, outbound.NewWebhookSink(settings.Webhook, metrics, log).HandleAlarm)
	}

	svc, err := alerting.Initialize(ctx, settings, deps, log)
	if err != nil {
		return fmt.Errorf("failed to start alarm engine: %w", err)
	}
	defer svc.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("alarm source closed")
		}
		return nil
	})

	if settings.HTTP.Enabled {
		server := api.NewServer(settings.HTTP, svc.Engine, metrics, log)
		svc.Bus.Subscribe(server.HandleAlarm)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	log.Info("alarmpipe running", logger.String("version", version))
	err = g.Wait()
	log.Info("alarmpipe stopping")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
