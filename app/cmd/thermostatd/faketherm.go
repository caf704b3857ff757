package main

import (
	"math/rand"
	"sync"
)

// fakeTherm random-walks around room temperature so the whole stack can be
// exercised on a machine without any sensor wired up.
type fakeTherm struct {
	mu    sync.Mutex
	tempC float32
}

func newFakeTherm() *fakeTherm {
	return &fakeTherm{tempC: 21.5}
}

func (t *fakeTherm) ReadTemperatureC() (float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempC += float32(rand.Float64()-0.5) * 0.4
	if t.tempC < 10 {
		t.tempC = 10
	}
	if t.tempC > 32 {
		t.tempC = 32
	}
	return t.tempC, nil
}
