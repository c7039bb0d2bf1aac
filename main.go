package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"

	"charge_point/actions"
	"charge_point/chargepoint"
	"charge_point/config"
	"charge_point/logger"
	"charge_point/notifier"
	natsnotifier "charge_point/notifier/nats"
	"charge_point/schema"
	"charge_point/session"
	"charge_point/ws"
)

const (
	envVarConfigPath     = "CHARGEPOINT_CONFIG"
	notificationCapacity = 64
)

var log *logrus.Logger

// Start function
func main() {
	configPath := flag.String("config", os.Getenv(envVarConfigPath), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("couldn't load configuration: %v", err)
	}
	log, err = logger.New(cfg.Logger)
	if err != nil {
		logrus.Fatalf("couldn't set up logging: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
	log.Info("stopped charge point")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := logger.ForChargePoint(log, cfg.ChargePoint.ID)
	wallClock := clock.WallClock

	var schemas *schema.Registry
	if cfg.Session.ValidateMessages {
		registry, err := schema.NewV16()
		if err != nil {
			return err
		}
		schemas = registry
	}

	conn, err := ws.Dial(ctx, ws.DialConfig{
		URL:              cfg.CentralSystem.URL,
		ChargePointID:    cfg.ChargePoint.ID,
		Subprotocols:     []string{cfg.CentralSystem.Subprotocol},
		HandshakeTimeout: cfg.CentralSystem.HandshakeTimeout,
	})
	if err != nil {
		return err
	}
	entry.Infof("connected to central system %s (%s)", cfg.CentralSystem.URL, conn.Subprotocol())

	notifications := make(chan notifier.Notification, notificationCapacity)
	store := chargepoint.NewConfigurationStore(cfg.Configuration)
	dispatcher := session.NewDispatcher(entry, schemas)
	dispatcher.AddHandler(core.GetConfigurationFeatureName, store.HandleGetConfiguration)

	sess, err := session.New(session.Config{
		Transport:   conn,
		Dispatcher:  dispatcher,
		Clock:       wallClock,
		Logger:      entry,
		CallTimeout: cfg.Session.CallTimeout,
		Schemas:     schemas,
		OnStateChange: func(state session.State) {
			notifier.Publish(notifications, notifier.Notification{
				Topic: notifier.TopicSessionState,
				Data:  map[string]interface{}{"chargePointId": cfg.ChargePoint.ID, "state": state.String()},
			})
		},
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	cp := chargepoint.NewChargePoint(cfg.ChargePoint.ID)
	registration, err := chargepoint.NewRegistration(chargepoint.RegistrationConfig{
		Caller:            sess,
		Clock:             wallClock,
		Logger:            entry,
		ChargePoint:       cp,
		Vendor:            cfg.ChargePoint.Vendor,
		Model:             cfg.ChargePoint.Model,
		HeartbeatInterval: cfg.ChargePoint.HeartbeatInterval,
		Notifications:     notifications,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	if cfg.Nats.Enabled {
		natsNotifier := natsnotifier.New(cfg.ChargePoint.ID, cfg.Nats.URL, cfg.Nats.RequestSubject, entry, wallClock)
		natsNotifier.SetChannel(notifications)
		natsNotifier.SetTimeout(cfg.Nats.RequestTimeout)
		log.Printf("waiting up to %v for command responses", natsNotifier.Timeout().String())

		coreProfileActions := actions.InitializeCoreProfileActions(ctx, entry, sess, registration, cp)
		for action, fn := range coreProfileActions.Handlers() {
			natsNotifier.AddHandler(action, natsnotifier.Function(fn))
		}
		if err := natsNotifier.Start(); err != nil {
			_ = conn.Close()
			return err
		}
		defer natsNotifier.Stop()
	}

	if err := sess.Start(); err != nil {
		return err
	}
	// The reader is already running, so the central system can call in
	// while the boot is in flight.
	go boot(ctx, entry, registration)

	select {
	case <-ctx.Done():
		entry.Info("stopping charge point")
		return sess.Stop()
	case <-sess.Dead():
		err := sess.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func boot(ctx context.Context, entry *logrus.Entry, registration *chargepoint.Registration) {
	status, err := registration.Boot(ctx)
	if err != nil {
		entry.Errorf("boot failed: %v", err)
		return
	}
	if status != core.RegistrationStatusAccepted {
		entry.Warnf("central system answered %v, not sending heartbeats", status)
		return
	}
	started := time.Now()
	if err := registration.RunHeartbeat(ctx); err != nil {
		entry.Infof("heartbeat stopped after %v: %v", time.Since(started).Round(time.Second), err)
	}
}
