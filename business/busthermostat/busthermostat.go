// Package busthermostat holds the control core: a state machine that turns
// temperature readings into relay commands. It runs no goroutines and does
// no I/O of its own; the app layer feeds it readings on a tick.
package busthermostat

import (
	"fmt"
	"sync"
	"time"
)

// Controller is whatever can switch the actual heating/cooling hardware.
type Controller interface {
	SetHeating(on bool) error
	SetCooling(on bool) error
	SetFan(on bool) error
}

// RestDuration is how long the compressor thaws once a rest kicks in.
const RestDuration = 30 * time.Minute

// Cooling below this would ice the coil regardless of what the user asked
// for. Just shy of 33F.
const freezeProtectCutoffC = 0.5

// Machine decides, once per tick, whether to heat, cool, rest or do
// nothing. All exported methods are safe for concurrent use; the web
// surface mutates settings while the control loop steps.
type Machine struct {
	mu       sync.Mutex
	settings Settings
	state    RunState

	currentTempC float32
	haveReading  bool

	disableFreezeProtection bool

	//cumulative run time since the compressor last rested
	totalCooling time.Duration
	//unused for decisions, just nice to have a counterpart
	totalHeating time.Duration

	restStarted time.Time
	lastStep    time.Time

	heatOn bool
	coolOn bool
	fanOn  bool

	now func() time.Time
}

func NewMachine(settings Settings, disableFreezeProtection bool) (*Machine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("machine construct: %w", err)
	}
	m := Machine{
		settings:                settings,
		state:                   StateWaiting,
		currentTempC:            settings.TargetTempC,
		disableFreezeProtection: disableFreezeProtection,
		now:                     time.Now,
	}
	m.restStarted = m.now()
	m.lastStep = m.now()
	return &m, nil
}

// Settings returns a copy of the current settings.
func (m *Machine) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Apply merges a partial update into the settings and returns the result.
// The change takes effect no later than the next Step.
func (m *Machine) Apply(patch SettingsPatch) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := m.settings.withPatch(patch)
	if err := updated.Validate(); err != nil {
		return m.settings, err
	}
	m.settings = updated
	return m.settings, nil
}

// Status is a point-in-time snapshot for the UI and the persistence layer.
type Status struct {
	State        RunState `json:"state"`
	Message      string   `json:"message"`
	CurrentTempC float32  `json:"currentTempC"`
	CurrentTempF float32  `json:"currentTempF"`
	Settings     Settings `json:"settings"`
	HeatOn       bool     `json:"heatOn"`
	CoolOn       bool     `json:"coolOn"`
	FanOn        bool     `json:"fanOn"`
	SensorOK     bool     `json:"sensorOk"`
}

// Step feeds one temperature reading (Celsius) through the state machine
// and drives the controller accordingly.
func (m *Machine) Step(readingC float32, ctl Controller) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	elapsed := now.Sub(m.lastStep)
	m.currentTempC = readingC
	m.haveReading = true

	var err error
	switch m.state {
	case StateWaiting:
		// Waiting isn't for resting, but if we happened to sit here long
		// enough the compressor has thawed anyway.
		if now.Sub(m.restStarted) > RestDuration {
			m.totalCooling = 0
		}
		switch m.settings.Mode {
		case ModeHeat:
			if readingC < m.waitingTargetTempC() {
				err = m.startHeating(ctl)
			}
		case ModeCool:
			if readingC > m.waitingTargetTempC() && m.coolingAllowed(readingC) {
				err = m.startCooling(ctl)
			}
		case ModeOff:
			err = m.startIdle(ctl)
		}

	case StateHeating:
		m.totalHeating += elapsed
		if readingC >= m.settings.TargetTempC {
			err = m.startWaiting(ctl, now)
		} else if m.settings.Mode != ModeHeat {
			//the user flipped the mode mid-cycle
			err = m.startWaiting(ctl, now)
		}

	case StateCooling:
		m.totalCooling += elapsed
		if m.shouldRest() {
			err = m.startResting(ctl, now)
		} else if readingC <= m.settings.TargetTempC || m.settings.Mode != ModeCool || !m.coolingAllowed(readingC) {
			err = m.startWaiting(ctl, now)
		}

	case StateResting:
		if now.Sub(m.restStarted) > RestDuration {
			m.totalCooling = 0
			switch m.settings.Mode {
			case ModeHeat:
				err = m.startHeating(ctl)
			case ModeCool:
				if m.coolingAllowed(readingC) {
					err = m.startCooling(ctl)
				} else {
					err = m.startWaiting(ctl, now)
				}
			case ModeOff:
				err = m.startIdle(ctl)
			}
		}

	case StateIdle:
		switch m.settings.Mode {
		case ModeHeat:
			err = m.startHeating(ctl)
		case ModeCool:
			if m.coolingAllowed(readingC) {
				err = m.startCooling(ctl)
			}
		case ModeOff:
			err = m.startIdle(ctl)
		}
	}

	m.lastStep = now
	return m.statusLocked(now), err
}

// FailSafe turns every relay off because we no longer trust the sensor.
// The machine drops back to waiting and recovers on the next good reading.
func (m *Machine) FailSafe(ctl Controller) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.haveReading = false
	m.state = StateWaiting
	m.restStarted = now
	m.lastStep = now

	err := m.setRelays(ctl, false, false, false)
	return m.statusLocked(now), err
}

// Status reports without stepping. Used by the HTTP handlers.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(m.now())
}

// waitingTargetTempC is the temperature that flips us out of waiting,
// offset from the target by the configured differential.
func (m *Machine) waitingTargetTempC() float32 {
	switch m.settings.Mode {
	case ModeHeat:
		switch m.settings.Differential {
		case DiffSlow:
			return m.settings.TargetTempC - 1.0 // ~1.9F
		case DiffFast:
			return m.settings.TargetTempC - 0.3 // ~0.5F
		default:
			return m.settings.TargetTempC - 0.4 // ~0.75F
		}
	case ModeCool:
		switch m.settings.Differential {
		case DiffSlow:
			return m.settings.TargetTempC + 0.9 // ~1.7F
		case DiffFast:
			return m.settings.TargetTempC + 0.5 // ~0.9F
		default:
			return m.settings.TargetTempC + 0.7 // ~1.2F
		}
	}
	return m.currentTempC
}

// shouldRest reports whether the compressor has run long enough that it
// needs to thaw. There isn't enough airflow in the target installs to
// keep the coil clear indefinitely.
func (m *Machine) shouldRest() bool {
	if m.settings.Mode != ModeCool {
		return false
	}
	switch m.settings.Rest {
	case RestShort:
		return m.totalCooling > 60*time.Minute
	case RestMedium:
		return m.totalCooling > 90*time.Minute
	case RestLong:
		return m.totalCooling > 120*time.Minute
	default:
		return false
	}
}

func (m *Machine) coolingAllowed(readingC float32) bool {
	return m.disableFreezeProtection || readingC > freezeProtectCutoffC
}

func (m *Machine) startHeating(ctl Controller) error {
	m.state = StateHeating
	return m.setRelays(ctl, true, false, true)
}

func (m *Machine) startCooling(ctl Controller) error {
	m.state = StateCooling
	return m.setRelays(ctl, false, true, true)
}

func (m *Machine) startIdle(ctl Controller) error {
	m.state = StateIdle
	// The fan keeps running in on mode; it will always be switched back on
	// when heating or cooling starts.
	return m.setRelays(ctl, false, false, m.settings.Fan == FanOn)
}

func (m *Machine) startResting(ctl Controller, now time.Time) error {
	m.state = StateResting
	m.restStarted = now
	// Fan stays on during resting to make sure the compressor thaws.
	return m.setRelays(ctl, false, false, true)
}

func (m *Machine) startWaiting(ctl Controller, now time.Time) error {
	m.state = StateWaiting
	m.restStarted = now
	return m.setRelays(ctl, false, false, m.settings.Fan == FanOn)
}

func (m *Machine) setRelays(ctl Controller, heat, cool, fan bool) error {
	if heat && cool {
		//this must never happen no matter what the state machine does
		heat, cool = false, false
	}
	m.heatOn, m.coolOn, m.fanOn = heat, cool, fan

	var firstErr error
	if err := ctl.SetHeating(heat); err != nil {
		firstErr = fmt.Errorf("set heating: %w", err)
	}
	if err := ctl.SetCooling(cool); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("set cooling: %w", err)
	}
	if err := ctl.SetFan(fan); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("set fan: %w", err)
	}
	return firstErr
}

func (m *Machine) statusLocked(now time.Time) Status {
	return Status{
		State:        m.state,
		Message:      m.statusMessageLocked(now),
		CurrentTempC: m.currentTempC,
		CurrentTempF: CelsiusToFahrenheit(m.currentTempC),
		Settings:     m.settings,
		HeatOn:       m.heatOn,
		CoolOn:       m.coolOn,
		FanOn:        m.fanOn,
		SensorOK:     m.haveReading,
	}
}

func (m *Machine) statusMessageLocked(now time.Time) string {
	if !m.haveReading {
		return "Sensor offline, controls off"
	}
	switch m.state {
	case StateWaiting:
		return "Waiting for " + FormatTemp(m.waitingTargetTempC(), m.settings.UseFahrenheit)
	case StateHeating:
		return "Heating"
	case StateCooling:
		return "Cooling"
	case StateResting:
		remaining := RestDuration - now.Sub(m.restStarted)
		if remaining < 0 {
			remaining = 0
		}
		return "Defrosting for " + formatDuration(remaining)
	case StateIdle:
		return "Idling"
	}
	return ""
}

func formatDuration(d time.Duration) string {
	minutes := int(d.Seconds()) / 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
