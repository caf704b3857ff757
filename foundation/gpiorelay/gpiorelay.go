// Package gpiorelay drives the heat, cool and fan relays through GPIO pins.
package gpiorelay

import (
	"fmt"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

type Pins struct {
	Heat int
	Cool int
	Fan  int
}

type Board struct {
	heat relay
	cool relay
	fan  relay
	//most relay hats energize on a low level
	activeLow bool
}

type relay struct {
	pin rpio.Pin
	on  bool
}

func New(pins Pins, activeLow bool) (*Board, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpiorelay: open gpio: %w", err)
	}

	b := Board{
		heat:      relay{pin: rpio.Pin(pins.Heat)},
		cool:      relay{pin: rpio.Pin(pins.Cool)},
		fan:       relay{pin: rpio.Pin(pins.Fan)},
		activeLow: activeLow,
	}
	//make sure everything starts out off, whatever the pins held before
	for _, r := range []*relay{&b.heat, &b.cool, &b.fan} {
		r.pin.Mode(rpio.Output)
		b.apply(r, false)
	}
	return &b, nil
}

// Close forces every relay off before releasing the GPIO range. A crashed
// control loop must never leave the compressor running.
func (b *Board) Close() error {
	b.apply(&b.heat, false)
	b.apply(&b.cool, false)
	b.apply(&b.fan, false)
	return rpio.Close()
}

func (b *Board) SetHeating(on bool) error {
	b.write(&b.heat, on)
	return nil
}

func (b *Board) SetCooling(on bool) error {
	b.write(&b.cool, on)
	return nil
}

func (b *Board) SetFan(on bool) error {
	b.write(&b.fan, on)
	return nil
}

// write skips the hardware call when the relay is already in the requested
// state, so callers can set levels every tick without chattering the coils.
func (b *Board) write(r *relay, on bool) {
	if r.on == on {
		return
	}
	b.apply(r, on)
}

func (b *Board) apply(r *relay, on bool) {
	r.on = on

	level := on
	if b.activeLow {
		level = !level
	}
	if level {
		r.pin.High()
	} else {
		r.pin.Low()
	}
}
