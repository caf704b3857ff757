// Package busconfig loads and validates the daemon's YAML configuration.
package busconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// SensorKind selects which thermometer driver the daemon wires up.
const (
	SensorDS18B20 = "ds18b20"
	SensorDHT22   = "dht22"
	SensorFake    = "fake"
)

type SensorConfig struct {
	Kind string `yaml:"kind"`
	//sysfs path for ds18b20, e.g. /sys/bus/w1/devices/28-.../temperature
	Path string `yaml:"path"`
	//BCM pin number for dht22
	Pin int `yaml:"pin"`
}

type RelayConfig struct {
	HeatPin int `yaml:"heatPin"`
	CoolPin int `yaml:"coolPin"`
	FanPin  int `yaml:"fanPin"`
	//most cheap relay boards close the contact when the pin is driven low
	ActiveLow bool `yaml:"activeLow"`
}

// Duration lets the YAML carry human-friendly values like "5s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	ListenAddress           string       `yaml:"listenAddress"`
	DbPath                  string       `yaml:"dbPath"`
	Sensor                  SensorConfig `yaml:"sensor"`
	Relays                  RelayConfig  `yaml:"relays"`
	LoopInterval            Duration     `yaml:"loopInterval"`
	HistoryRetention        Duration     `yaml:"historyRetention"`
	DisableFreezeProtection bool         `yaml:"disableFreezeProtection"`
	UseFahrenheit           bool         `yaml:"useFahrenheit"`
}

func Default() Config {
	return Config{
		ListenAddress:    ":8480",
		DbPath:           "thermostat.db",
		Sensor:           SensorConfig{Kind: SensorDS18B20},
		Relays:           RelayConfig{HeatPin: 17, CoolPin: 27, FanPin: 22, ActiveLow: true},
		LoopInterval:     Duration(5 * time.Second),
		HistoryRetention: Duration(7 * 24 * time.Hour),
		UseFahrenheit:    true,
	}
}

// FromFile reads the YAML config at path on top of the defaults. Unknown
// keys are an error so a typo doesn't silently fall back to a default.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	config := Default()
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if err := config.HasError(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// HasError reports the first problem with the config, nil if it's usable.
func (c Config) HasError() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listenAddress must not be empty")
	}
	if c.DbPath == "" {
		return fmt.Errorf("dbPath must not be empty")
	}
	if c.LoopInterval.Std() < time.Second {
		return fmt.Errorf("loopInterval %s is too aggressive; use at least 1s", c.LoopInterval.Std())
	}
	if c.HistoryRetention.Std() < time.Hour {
		return fmt.Errorf("historyRetention %s is shorter than the history view needs", c.HistoryRetention.Std())
	}

	switch c.Sensor.Kind {
	case SensorDS18B20:
		//an empty path means "autodetect at startup"
		if c.Sensor.Path != "" && !strings.HasPrefix(c.Sensor.Path, "/") {
			return fmt.Errorf("sensor path %q must be absolute", c.Sensor.Path)
		}
	case SensorDHT22:
		if c.Sensor.Pin <= 0 {
			return fmt.Errorf("sensor kind %q requires a pin", c.Sensor.Kind)
		}
	case SensorFake:
	default:
		return fmt.Errorf("unknown sensor kind %q (expected %s, %s or %s)", c.Sensor.Kind, SensorDS18B20, SensorDHT22, SensorFake)
	}

	pins := map[string]int{
		"heatPin": c.Relays.HeatPin,
		"coolPin": c.Relays.CoolPin,
		"fanPin":  c.Relays.FanPin,
	}
	seen := make(map[int]string, len(pins))
	for name, pin := range pins {
		if pin <= 0 {
			return fmt.Errorf("relay %s must be a positive BCM pin number", name)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("relay %s and %s share pin %d", name, other, pin)
		}
		seen[pin] = name
	}

	return nil
}
