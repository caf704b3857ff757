// Package dht22therm reads a DHT22 temperature/humidity sensor by
// bit-banging its single-wire protocol over a GPIO pin.
package dht22therm

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

const maxWait = int64(time.Millisecond)

type Reader struct {
	pin rpio.Pin
}

// New opens the GPIO memory range and binds the reader to the given pin.
// The caller must Close when done.
func New(pin int) (*Reader, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("dht22therm: open gpio: %w", err)
	}
	return &Reader{pin: rpio.Pin(pin)}, nil
}

func (r *Reader) Close() error {
	return rpio.Close()
}

// ReadTemperatureC returns the current temperature in Celsius. The sensor
// misreads often, so we retry a handful of times before giving up.
func (r *Reader) ReadTemperatureC() (float32, error) {
	temp, _, err := r.Read()
	return temp, err
}

// Read returns temperature in Celsius and relative humidity in percent.
func (r *Reader) Read() (float32, float32, error) {
	for i := 0; i < 10; i++ {
		// The read is timing sensitive. A GC pause mid-pulse corrupts the
		// whole frame, so collection is held off until we're done.
		debug.SetGCPercent(-1)
		temp, humi, ok := readDHT22(r.pin)
		debug.SetGCPercent(100)
		if ok {
			return temp, humi, nil
		}
	}
	return 0, 0, errors.New("dht22therm: no valid reading after 10 attempts")
}

func readDHT22(pin rpio.Pin) (float32, float32, bool) {
	// early allocations before time critical code
	pulseLen := make([]int64, 82)

	pin.Mode(rpio.Output)
	pin.High()

	// send init values
	time.Sleep(400 * time.Millisecond)
	pin.Low()

	// spinlock for milliseconds while pin is low.
	// this signals the request for reading
	s := time.Now().UnixNano()
	to := int64(time.Millisecond * 20)
	for time.Now().UnixNano()-s < to {
	}
	pin.Mode(rpio.Input)
	pin.PullUp()

	// now we wait for the DHT to pull low
	s = time.Now().UnixNano()
	firstWaitMax := int64(time.Millisecond * 5)
	for pin.Read() == rpio.High {
		if time.Now().UnixNano()-s > firstWaitMax {
			return -1, -1, false // DHT never pulled low... probably retry
		}
	}

	// The DHT pulls low for 80us and then high for 80us to signal it's
	// starting. After that we read 40 low and 40 high pulses.
	var end int64
READER:
	for i := 0; i < 81; i += 2 {
		s = 0
		end = 0
		// read low pulse length
		for pin.Read() == rpio.Low {
			if end-s > maxWait {
				break READER
			}
			end++
		}
		pulseLen[i] = end - s

		s = 0
		end = 0
		// read high pulse length
		for pin.Read() == rpio.High {
			if end-s > maxWait {
				break READER
			}
			end++
		}
		pulseLen[i+1] = end - s
	}
	pin.PullOff()

	var threshold int64
	for i := 2; i < 82; i += 2 {
		threshold += pulseLen[i]
	}
	threshold /= 40

	// convert to bytes
	bytes := make([]uint8, 5)

	for i := 3; i < 82; i += 2 {
		bi := (i - 3) / 16
		bytes[bi] <<= 1
		if pulseLen[i] > threshold {
			bytes[bi] |= 0x01
		}
	}

	// calculate humidity
	humidity := float32(uint16(bytes[0])*256+uint16(bytes[1])) / 10.0
	// calculate temperature
	temperature := float32((uint16(bytes[2])&0x7F)*256+uint16(bytes[3])) / 10.0
	// check for negative temperature
	if uint16(bytes[2])&0x80 > 0 {
		temperature *= -1
	}
	return temperature, humidity, checksum(bytes)
}

func checksum(bytes []uint8) bool {
	var sum uint8
	for i := 0; i < 4; i++ {
		sum += bytes[i]
	}
	return sum == bytes[4]
}
