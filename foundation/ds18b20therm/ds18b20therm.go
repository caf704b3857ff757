// Package ds18b20therm reads DS18B20 one-wire thermometers through the
// kernel's sysfs interface.
package ds18b20therm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Logger interface {
	Printf(string, ...interface{})
}

// Plausibility bounds for an ambient sensor. Readings outside this window
// are treated as wiring glitches rather than real temperatures.
const (
	minValidCelsiusTemperature = -35
	maxValidCelsiusTemperature = 85
)

type Reader struct {
	temperaturePath string
	logger          Logger
}

func New(temperaturePath string, logger Logger) (*Reader, error) {
	if temperaturePath == "" {
		return nil, errors.New("ds18b20therm: temperature path is required")
	}
	return &Reader{
		temperaturePath: temperaturePath,
		logger:          logger,
	}, nil
}

// ReadTemperatureC returns the current temperature in Celsius.
func (r *Reader) ReadTemperatureC() (float32, error) {
	var temperatureBytes []byte
	for counter := 1; counter <= 3; counter++ {
		var err error
		temperatureBytes, err = os.ReadFile(r.temperaturePath)
		if err != nil {
			return 0, err
		}

		if len(temperatureBytes) != 0 {
			break
		}
		r.logger.Printf("Temperature read attempt %d resulted in an empty string", counter)
		//the sensor sometimes needs a moment between conversions
		time.Sleep(time.Millisecond * 200)
	}

	return processTemperatureFileBytes(temperatureBytes)
}

func processTemperatureFileBytes(temperatureBytes []byte) (float32, error) {
	temperatureString := string(temperatureBytes)
	if temperatureString == "" {
		return 0, errors.New("we received an empty string from the temperature file")
	}

	// Trim the line break from the end of the string.
	temperatureString = strings.TrimSuffix(temperatureString, "\n")

	temperature64, err := strconv.ParseFloat(temperatureString, 32)
	if err != nil {
		return 0, err
	}

	// The kernel exposes millidegrees Celsius.
	temperature := float32(temperature64 / 1000)

	if temperature < minValidCelsiusTemperature || temperature > maxValidCelsiusTemperature {
		return 0, fmt.Errorf("invalid temperature: %#v", temperature)
	}

	return temperature, nil
}

// ThermometerDevicesRootPath where to look for DS18B20 devices
const ThermometerDevicesRootPath = "/sys/bus/w1/devices/"

// EnumerateThermometerPaths checks whether any DS18B20 devices are wired up
// and returns the paths of the ones that yield a readable temperature.
func EnumerateThermometerPaths() []string {
	var temperaturePaths []string

	entries, err := os.ReadDir(ThermometerDevicesRootPath)
	if err != nil {
		return temperaturePaths
	}
	for _, entry := range entries {
		//check if there's a readable temperature file inside
		filePath := ThermometerDevicesRootPath + entry.Name() + "/temperature"
		temperatureBytes, err := os.ReadFile(filePath)
		if err != nil {
			continue //temperature file doesn't exist or isn't readable
		}

		//we have a real file, so continue to verify it's a valid temperature
		if _, err = processTemperatureFileBytes(temperatureBytes); err != nil {
			continue
		}

		//it seems we found a real temperature device path
		temperaturePaths = append(temperaturePaths, filePath)
	}
	return temperaturePaths
}
