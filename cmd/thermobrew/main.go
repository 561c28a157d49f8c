package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/thermobrew/cmd/app"
	"github.com/Agrid-Dev/thermobrew/internal/actuator"
	httpctrl "github.com/Agrid-Dev/thermobrew/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/thermobrew/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/thermobrew/internal/controllers/mqtt"
	"github.com/Agrid-Dev/thermobrew/internal/device"
	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
	"github.com/Agrid-Dev/thermobrew/internal/sensor"
	"github.com/Agrid-Dev/thermobrew/internal/telemetry"
)

func main() {
	var (
		configPath  string
		envFile     string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	flag.Parse()

	boot := logger.New(logger.InfoLevel)

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		boot.Fatalw("load env file", "path", envFile, "err", err)
	}

	cfg, err := app.Load(configPath)
	if err != nil {
		boot.Fatalw("load config", "path", configPath, "err", err)
	}

	if printConfig {
		if err := app.DumpYAML(os.Stdout, cfg); err != nil {
			boot.Fatalw("print config", "err", err)
		}
		return
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorw("thermobrew exited", "err", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config, log *logger.Logger) error {
	snap, err := cfg.Snapshot()
	if err != nil {
		return err
	}
	store, err := fermenter.NewStore(snap)
	if err != nil {
		return err
	}
	dev, err := device.New(cfg.DeviceID, store)
	if err != nil {
		return err
	}
	log.Infow("device", "id", dev.ID, "derived", dev.Derived)

	lines, err := openLines(cfg, snap)
	if err != nil {
		return err
	}
	drv := actuator.New(lines, log.Named("actuator"))
	defer func() {
		if err := drv.Close(); err != nil {
			log.Warnw("release actuator lines", "err", err)
		}
	}()
	// Start from a known state: both lines off.
	drv.Apply(fermenter.StateCorrect)

	src, err := openSensor(cfg, drv)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var pubs telemetry.Fanout

	if cfg.Telemetry.Enabled {
		ch, err := telemetry.NewChannel(telemetry.Config{
			DeviceID:          dev.ID,
			ServerURL:         cfg.Telemetry.ServerURL,
			ReconnectInterval: cfg.Telemetry.ReconnectInterval,
			HeartbeatInterval: cfg.Telemetry.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Telemetry.HeartbeatTimeout,
			HeartbeatMisses:   cfg.Telemetry.HeartbeatMisses,
			Logger:            log.Named("telemetry"),
		})
		if err != nil {
			return err
		}
		store.OnTopicChange(ch.OnTopicChanged)
		pubs = append(pubs, ch)
		g.Go(func() error { return ch.Run(gctx, snap.Topic) })
	}

	if cfg.Controllers.MQTT.Enabled {
		m := cfg.Controllers.MQTT
		mc, err := mqttctrl.New(store, mqttctrl.Config{
			DeviceID:        dev.ID,
			BrokerURL:       m.BrokerURL,
			ClientID:        m.ClientID,
			BaseTopic:       m.BaseTopic,
			QoS:             m.QoS,
			RetainSnapshot:  m.RetainSnapshot,
			PublishInterval: m.PublishInterval,
			WriteTimeout:    m.WriteTimeout,
			Username:        m.Username,
			Password:        m.Password,
		}, log.Named("mqtt"))
		if err != nil {
			return err
		}
		pubs = append(pubs, mc)
		g.Go(func() error { return mc.Run(gctx) })
	}

	loop := fermenter.NewLoop(store, src, drv, pubs, fermenter.LoopOptions{
		Poll:      cfg.Controller.PollInterval,
		Evaluator: cfg.Evaluator(),
		Logger:    log.Named("loop"),
	})
	g.Go(func() error { return loop.Run(gctx) })

	if cfg.Controllers.HTTP.Enabled {
		srv := httpctrl.New(store, loop, cfg.Controllers.HTTP.Addr, dev.ID, log.Named("http"))
		log.Infow("http listening", "addr", cfg.Controllers.HTTP.Addr)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Controllers.MODBUS.Enabled {
		mb, err := modbusctrl.New(store, loop, modbusctrl.Config{
			DeviceID: dev.ID,
			Addr:     cfg.Controllers.MODBUS.Addr,
			UnitID:   cfg.Controllers.MODBUS.UnitID,
		}, log.Named("modbus"))
		if err != nil {
			return err
		}
		g.Go(func() error { return mb.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infow("shutting down")
	return nil
}

func openLines(cfg app.Config, snap fermenter.Snapshot) (actuator.Lines, error) {
	switch cfg.Actuator.Driver {
	case app.ActuatorGPIOCDev:
		return actuator.OpenGPIO(cfg.Actuator.Chip, snap.HeaterPin, snap.CoolerPin, cfg.Actuator.ActiveLow)
	case app.ActuatorRPIO:
		return actuator.OpenRPIO(snap.HeaterPin, snap.CoolerPin, cfg.Actuator.ActiveLow)
	case app.ActuatorNone:
		return actuator.NewMemoryLines(), nil
	default:
		return nil, fmt.Errorf("unknown actuator driver %q", cfg.Actuator.Driver)
	}
}

func openSensor(cfg app.Config, outputs sensor.OutputSource) (fermenter.Sensor, error) {
	switch cfg.Sensor.Driver {
	case app.SensorDS18B20:
		return sensor.NewDS18B20(cfg.Sensor.Address), nil
	case app.SensorSimulated:
		sim := cfg.Simulation
		return sensor.NewVessel(sensor.VesselParams{
			Initial:     sim.InitialTemperature,
			Ambient:     sim.AmbientTemperature,
			Coefficient: sim.Coefficient,
			HeaterRate:  sim.HeaterRate,
			CoolerRate:  sim.CoolerRate,
		}, outputs, nil)
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", cfg.Sensor.Driver)
	}
}
