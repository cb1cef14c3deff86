package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/propmodel/internal/api"
	"github.com/AaronLay10/propmodel/internal/config"
	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/metrics"
	"github.com/AaronLay10/propmodel/internal/mqtt"
	"github.com/AaronLay10/propmodel/internal/session"
	"github.com/AaronLay10/propmodel/internal/storage/postgres"
	"github.com/AaronLay10/propmodel/internal/version"
)

const alertCheckInterval = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServiceConfig(configPath)
	if err != nil {
		return err
	}
	def, err := definition.Load(cfg.Service.Model)
	if err != nil {
		return err
	}

	if err := api.InitAuth(); err != nil {
		return err
	}
	if api.IsAuthEnabled() {
		log.Printf("auth enabled")
	}
	api.InitTLS()
	api.InitMetrics()
	api.InitAlerts()
	metrics.SetBuildInfo(version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg := startPostgres(cfg, def.Model.Name)
	if pg != nil {
		defer pg.Close()
	}

	sess, err := session.New(def)
	if err != nil {
		return err
	}
	api.SetSession(sess)
	api.SetModelName(sess.Name())

	host, _ := os.Hostname()
	events.Emit("info", "system.startup", "", map[string]interface{}{
		"service":  cfg.Service.Name,
		"version":  version.Version,
		"model":    sess.Name(),
		"hostname": host,
		"pid":      os.Getpid(),
	})

	registry := mqtt.NewRegistry(cfg.MQTTPrefix())
	registry.Rebuild(sess.Names())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTTClientID())
		sub := mqtt.NewSetSubscriber(client, registry, sess)
		pub := mqtt.NewStatePublisher(client, registry)
		client.OnReconnect(sub.Resubscribe)
		client.OnReconnect(func() { pub.Publish(sess.Values()) })
		sess.AddPublisher(pub)
		api.SetMQTTState(false, false)

		g.Go(func() error {
			client.StartWithRetry()
			<-gctx.Done()
			client.Disconnect()
			return nil
		})
	} else {
		api.SetMQTTState(false, true)
	}

	if cfg.Service.Watch {
		w, err := definition.NewWatcher(cfg.Service.Model, definition.DefaultDebounce, func(def *definition.Definition, err error) {
			reload(sess, registry, pg, def, err)
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}

	var pinger api.Pinger
	if pg != nil {
		pinger = pg
	}
	g.Go(func() error {
		return ignoreCanceled(api.RunAlertMonitor(gctx, alertCheckInterval, pinger))
	})
	g.Go(func() error { return api.Serve(gctx, cfg.HTTPPort()) })

	err = g.Wait()
	events.Emit("info", "system.shutdown", "", map[string]interface{}{
		"service": cfg.Service.Name,
	})
	return err
}

// startPostgres connects the event sink when enabled. A failed connection
// leaves the service running without history.
func startPostgres(cfg *config.ServiceConfig, model string) *postgres.Client {
	if !cfg.Postgres.Enabled {
		api.SetPostgresState(false, true)
		return nil
	}
	pg, err := postgres.New(model)
	if err != nil {
		log.Printf("postgres unavailable, running without event history: %v", err)
		api.SetPostgresState(false, true)
		return nil
	}
	events.SetPostgresClient(pg)
	api.SetPostgresState(true, false)
	return pg
}

// reload swaps in a changed definition and points the MQTT registry and
// the event sink at it.
func reload(sess *session.Session, registry *mqtt.Registry, pg *postgres.Client, def *definition.Definition, err error) {
	if err != nil {
		metrics.RecordReload(false)
		events.Emit("error", "model.invalid", "", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := sess.Reload(def); err != nil && errors.Is(err, definition.ErrInvalidDefinition) {
		return
	}
	registry.Rebuild(sess.Names())
	api.SetModelName(sess.Name())
	if pg != nil {
		pg.SetModel(sess.Name())
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
