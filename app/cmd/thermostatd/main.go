package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jroedel/thermostat/app/sdk/appthermostat"
	"github.com/jroedel/thermostat/app/sdk/appweb"
	"github.com/jroedel/thermostat/business/busconfig"
	"github.com/jroedel/thermostat/business/busstate"
	"github.com/jroedel/thermostat/business/busthermostat"
	"github.com/jroedel/thermostat/foundation/clientsqlite"
	"github.com/jroedel/thermostat/foundation/dht22therm"
	"github.com/jroedel/thermostat/foundation/ds18b20therm"
	"github.com/jroedel/thermostat/foundation/gpiorelay"
)

var (
	configPath    string
	listenAddress string
	dbPath        string
	fakeHardware  bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")
	flag.StringVar(&listenAddress, "listen-address", "", "listen address for the web surface, overrides the config file")
	flag.StringVar(&dbPath, "db-path", "", "path to the sqlite database, overrides the config file")
	flag.BoolVar(&fakeHardware, "fake-hardware", false, "simulate the thermometer and relays, for development off the device")
}

/*
build for raspberry pi using `env GOOS=linux GOARCH=arm GOARM=6 go build`
*/
func main() {
	flag.Parse()
	logger := log.New(os.Stdout, "[thermostatd] ", 0)

	config := busconfig.Default()
	if configPath != "" {
		var err error
		config, err = busconfig.FromFile(configPath)
		if err != nil {
			logger.Fatal(err)
		}
	}
	if listenAddress != "" {
		config.ListenAddress = listenAddress
	}
	if dbPath != "" {
		config.DbPath = dbPath
	}
	if fakeHardware {
		config.Sensor = busconfig.SensorConfig{Kind: busconfig.SensorFake}
	}
	config.Sensor = resolveSensor(config.Sensor, logger)
	if err := config.HasError(); err != nil {
		logger.Fatal(err)
	}

	db, err := clientsqlite.New(config.DbPath)
	if err != nil {
		logger.Fatalf("Error creating sqlite dbo: %s\n", err)
	}
	defer db.Close()
	store := busstate.New(db)

	settings, ok, err := store.LoadSettings()
	if err != nil {
		logger.Printf("couldn't load persisted settings, starting from defaults: %s", err)
		ok = false
	}
	if !ok {
		settings = busthermostat.DefaultSettings()
		settings.UseFahrenheit = config.UseFahrenheit
		logger.Println("No persisted settings found, starting from defaults")
	} else {
		logger.Printf("Restored settings: %+v", settings)
	}

	machine, err := busthermostat.NewMachine(settings, config.DisableFreezeProtection)
	if err != nil {
		logger.Fatalf("Error creating state machine: %s", err)
	}

	therm, relays, cleanup, err := buildHardware(config, logger)
	if err != nil {
		logger.Fatalf("Error setting up hardware: %s", err)
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	hub := appweb.NewHub(logger)

	app, err := appthermostat.New(appthermostat.Config{
		Machine:          machine,
		Store:            store,
		Thermometer:      therm,
		Relays:           relays,
		Logger:           logger,
		Registry:         reg,
		Broadcaster:      hub,
		LoopInterval:     config.LoopInterval.Std(),
		HistoryRetention: config.HistoryRetention.Std(),
	})
	if err != nil {
		logger.Fatalf("Error creating app: %s", err)
	}
	hub.BindApplier(app.ApplySettings)

	web, err := appweb.New(app, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
	if err != nil {
		logger.Fatalf("Error creating web surface: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		logger.Printf("Received %s, shutting down", sig)
		cancel()
	}()

	app.Start(ctx)
	if err := web.ListenAndServe(ctx, config.ListenAddress); err != nil {
		logger.Fatalf("web surface: %s", err)
	}
}

// logRelays stands in for the GPIO board when running with fake hardware.
type logRelays struct {
	logger *log.Logger
}

func (r logRelays) SetHeating(on bool) error { r.logger.Printf("relay heat -> %t", on); return nil }
func (r logRelays) SetCooling(on bool) error { r.logger.Printf("relay cool -> %t", on); return nil }
func (r logRelays) SetFan(on bool) error     { r.logger.Printf("relay fan -> %t", on); return nil }

type relayBoard interface {
	busthermostat.Controller
	Close() error
}

// Indirection so the wiring can be exercised on machines without GPIO.
var (
	openRelayBoard = func(pins gpiorelay.Pins, activeLow bool) (relayBoard, error) {
		return gpiorelay.New(pins, activeLow)
	}
	enumerateThermometers = ds18b20therm.EnumerateThermometerPaths
)

// resolveSensor fills in an unset DS18B20 path from the devices actually
// wired up, and falls back to the simulated sensor when nothing is found,
// so a bare `thermostatd` still comes up on any machine.
func resolveSensor(sensor busconfig.SensorConfig, logger *log.Logger) busconfig.SensorConfig {
	if sensor.Kind != busconfig.SensorDS18B20 || sensor.Path != "" {
		return sensor
	}

	logger.Println("Assuming we're on a Raspberry Pi, we'll check for connected thermometers")
	thermometerPaths := enumerateThermometers()
	if len(thermometerPaths) == 0 {
		logger.Println("We didn't find any :-( Running with a simulated sensor instead")
		return busconfig.SensorConfig{Kind: busconfig.SensorFake}
	}

	logger.Printf("We found these:\n%s\n", strings.Join(thermometerPaths, "\n"))
	logger.Printf("Using thermometer %s", thermometerPaths[0])
	return busconfig.SensorConfig{Kind: busconfig.SensorDS18B20, Path: thermometerPaths[0]}
}

func buildHardware(config busconfig.Config, logger *log.Logger) (appthermostat.Thermometer, busthermostat.Controller, func(), error) {
	if config.Sensor.Kind == busconfig.SensorFake {
		logger.Println("Running with simulated hardware")
		return newFakeTherm(), logRelays{logger: logger}, func() {}, nil
	}

	board, err := openRelayBoard(gpiorelay.Pins{
		Heat: config.Relays.HeatPin,
		Cool: config.Relays.CoolPin,
		Fan:  config.Relays.FanPin,
	}, config.Relays.ActiveLow)
	if err != nil {
		logger.Printf("GPIO unavailable (%s), running with simulated hardware", err)
		return newFakeTherm(), logRelays{logger: logger}, func() {}, nil
	}
	cleanup := func() {
		//shutting down must leave the relays off
		if err := board.Close(); err != nil {
			logger.Printf("closing relay board: %s", err)
		}
	}

	switch config.Sensor.Kind {
	case busconfig.SensorDS18B20:
		therm, err := ds18b20therm.New(config.Sensor.Path, logger)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		return therm, board, cleanup, nil
	case busconfig.SensorDHT22:
		therm, err := dht22therm.New(config.Sensor.Pin)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		return therm, board, cleanup, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown sensor kind %q", config.Sensor.Kind)
}
