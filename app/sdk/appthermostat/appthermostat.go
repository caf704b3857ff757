// Package appthermostat runs the control loop: read the thermometer, feed
// the state machine, drive the relays, and keep everyone else informed.
package appthermostat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jroedel/thermostat/business/busstate"
	"github.com/jroedel/thermostat/business/busthermostat"
)

// A sensor read that fails can coast on the previous reading for a while;
// past this age we stop trusting it and fail safe instead.
const readingMaxAge = 90 * time.Second

const cacheKeyReading = "reading"

// Thermometer is any temperature source the loop can poll.
type Thermometer interface {
	ReadTemperatureC() (float32, error)
}

// Broadcaster receives every fresh status snapshot, typically to push it
// out to connected UI clients.
type Broadcaster interface {
	Broadcast(status busthermostat.Status)
}

type App struct {
	//required
	machine *busthermostat.Machine
	store   *busstate.Store
	therm   Thermometer
	relays  busthermostat.Controller
	logger  *log.Logger

	//optional
	broadcast Broadcaster

	//internal
	cache            *ttlcache.Cache
	metrics          *metrics
	loopInterval     time.Duration
	historyRetention time.Duration

	mu        sync.Mutex
	lastPass  time.Time
	lastState busthermostat.RunState
}

type Config struct {
	Machine          *busthermostat.Machine
	Store            *busstate.Store
	Thermometer      Thermometer
	Relays           busthermostat.Controller
	Logger           *log.Logger
	Registry         prometheus.Registerer
	Broadcaster      Broadcaster
	LoopInterval     time.Duration
	HistoryRetention time.Duration
}

func New(cfg Config) (*App, error) {
	if cfg.Machine == nil {
		return nil, fmt.Errorf("app construct: Machine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("app construct: Store is required")
	}
	if cfg.Thermometer == nil {
		return nil, fmt.Errorf("app construct: Thermometer is required")
	}
	if cfg.Relays == nil {
		return nil, fmt.Errorf("app construct: Relays is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("app construct: Logger is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("app construct: Registry is required")
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 5 * time.Second
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 7 * 24 * time.Hour
	}

	cache := ttlcache.NewCache()
	cache.SetTTL(readingMaxAge)

	return &App{
		machine:          cfg.Machine,
		store:            cfg.Store,
		therm:            cfg.Thermometer,
		relays:           cfg.Relays,
		logger:           cfg.Logger,
		broadcast:        cfg.Broadcaster,
		cache:            cache,
		metrics:          newMetrics(cfg.Registry),
		loopInterval:     cfg.LoopInterval,
		historyRetention: cfg.HistoryRetention,
	}, nil
}

// Start launches the control loop and returns. The loop stops when the
// context is canceled; the caller is responsible for turning the relays
// off afterwards.
func (app *App) Start(ctx context.Context) {
	app.logger.Printf("Beginning control loop, stepping every %s", app.loopInterval)
	go app.run(ctx)
}

func (app *App) run(ctx context.Context) {
	ticker := time.NewTicker(app.loopInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	//don't wait a full interval before the first reading
	app.tick()
	for {
		select {
		case <-ticker.C:
			app.tick()
		case <-pruneTicker.C:
			cutoff := time.Now().Add(-app.historyRetention)
			if err := app.store.PruneSamplesBefore(cutoff); err != nil {
				app.logger.Printf("pruning history: %s", err)
			}
		case <-ctx.Done():
			app.logger.Println("Context canceled, control loop stopping")
			return
		}
	}
}

func (app *App) tick() {
	readingC, err := app.readTemperature()
	if err != nil {
		app.logger.Printf("no usable temperature reading, failing safe: %s", err)
		status, ferr := app.machine.FailSafe(app.relays)
		if ferr != nil {
			app.logger.Printf("fail-safe relay write: %s", ferr)
		}
		app.metrics.failsafeTotal.Inc()
		app.finishTick(status)
		return
	}

	// Step returns a usable status even when a relay write fails; the tick
	// still records the sample and reports, so health and history don't
	// stall on a flaky relay board.
	status, err := app.machine.Step(readingC, app.relays)
	if err != nil {
		app.logger.Printf("step: %s", err)
	}

	sample := busstate.Sample{
		Timestamp:    time.Now(),
		TemperatureC: readingC,
		TargetTempC:  status.Settings.TargetTempC,
		RunState:     status.State.String(),
	}
	if err := app.store.RecordSample(sample); err != nil {
		app.logger.Printf("recording sample: %s", err)
	}

	app.finishTick(status)
}

// readTemperature polls the sensor, falling back to a recent cached
// reading when the poll fails. DHT22s in particular misread routinely.
func (app *App) readTemperature() (float32, error) {
	readingC, err := app.therm.ReadTemperatureC()
	if err == nil {
		app.cache.Set(cacheKeyReading, readingC)
		return readingC, nil
	}

	app.metrics.sensorReadFailures.Inc()
	cached, cerr := app.cache.Get(cacheKeyReading)
	if cerr != nil {
		return 0, fmt.Errorf("sensor read failed (%w) and no recent reading is cached", err)
	}
	app.logger.Printf("sensor read failed (%s), coasting on the previous reading", err)
	return cached.(float32), nil
}

func (app *App) finishTick(status busthermostat.Status) {
	app.metrics.observeStatus(status)

	app.mu.Lock()
	if status.State == busthermostat.StateResting && app.lastState != busthermostat.StateResting {
		app.metrics.restCyclesTotal.Inc()
	}
	app.lastState = status.State
	app.lastPass = time.Now()
	app.mu.Unlock()

	if app.broadcast != nil {
		app.broadcast.Broadcast(status)
	}
}

// LastPass reports when the loop last completed, for health checks.
func (app *App) LastPass() time.Time {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.lastPass
}

// Status returns the current machine snapshot without touching hardware.
func (app *App) Status() busthermostat.Status {
	return app.machine.Status()
}

// ApplySettings validates and applies a partial settings update, persists
// the result and pushes the new status to connected clients.
func (app *App) ApplySettings(patch busthermostat.SettingsPatch) (busthermostat.Status, error) {
	settings, err := app.machine.Apply(patch)
	if err != nil {
		return busthermostat.Status{}, err
	}
	if err := app.store.SaveSettings(settings); err != nil {
		//the machine already runs with the new settings; losing them to a
		//power cycle is the lesser problem, so log and carry on
		app.logger.Printf("persisting settings: %s", err)
	}

	status := app.machine.Status()
	if app.broadcast != nil {
		app.broadcast.Broadcast(status)
	}
	return status, nil
}

// History returns the persisted samples within the window, oldest first.
func (app *App) History(window time.Duration) ([]busstate.Sample, error) {
	return app.store.RecentSamples(window)
}

// AverageTemperature averages this run's readings over the window.
func (app *App) AverageTemperature(window time.Duration) (float32, error) {
	return app.store.AverageRecentTemperature(window)
}
