package busthermostat

import (
	"strings"
	"testing"
	"time"
)

// recordingController remembers the last level written to each relay.
type recordingController struct {
	heat bool
	cool bool
	fan  bool
}

func (c *recordingController) SetHeating(on bool) error { c.heat = on; return nil }
func (c *recordingController) SetCooling(on bool) error { c.cool = on; return nil }
func (c *recordingController) SetFan(on bool) error     { c.fan = on; return nil }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestMachine(t *testing.T, settings Settings) (*Machine, *fakeClock) {
	t.Helper()
	m, err := NewMachine(settings, false)
	if err != nil {
		t.Fatal(err)
	}
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = func() time.Time { return clk.t }
	m.restStarted = clk.t
	m.lastStep = clk.t
	return m, clk
}

func TestHeatingCycle(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeHeat
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	//normal differential keeps us waiting until 0.4C below target
	status, err := m.Step(20.7, ctl)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != StateWaiting {
		t.Fatalf("expected waiting at 20.7, got %s", status.State)
	}
	if ctl.heat {
		t.Error("heat relay shouldn't be on while waiting")
	}

	clk.advance(5 * time.Second)
	status, _ = m.Step(20.5, ctl)
	if status.State != StateHeating {
		t.Fatalf("expected heating at 20.5, got %s", status.State)
	}
	if !ctl.heat || ctl.cool || !ctl.fan {
		t.Errorf("expected heat+fan on, cool off; got heat=%t cool=%t fan=%t", ctl.heat, ctl.cool, ctl.fan)
	}
	if status.Message != "Heating" {
		t.Errorf("unexpected message: %q", status.Message)
	}

	//still shy of the target, keep going
	clk.advance(5 * time.Second)
	status, _ = m.Step(20.9, ctl)
	if status.State != StateHeating {
		t.Fatalf("expected to keep heating at 20.9, got %s", status.State)
	}

	clk.advance(5 * time.Second)
	status, _ = m.Step(21.0, ctl)
	if status.State != StateWaiting {
		t.Fatalf("expected waiting once target reached, got %s", status.State)
	}
	if ctl.heat || ctl.cool || ctl.fan {
		t.Errorf("expected everything off after the cycle; got heat=%t cool=%t fan=%t", ctl.heat, ctl.cool, ctl.fan)
	}
}

func TestCoolingCycleSlowDifferential(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeCool
	settings.Differential = DiffSlow
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	status, _ := m.Step(21.8, ctl)
	if status.State != StateWaiting {
		t.Fatalf("slow differential shouldn't trip at 21.8, got %s", status.State)
	}

	clk.advance(5 * time.Second)
	status, _ = m.Step(22.0, ctl)
	if status.State != StateCooling {
		t.Fatalf("expected cooling at 22.0, got %s", status.State)
	}
	if ctl.heat || !ctl.cool || !ctl.fan {
		t.Errorf("expected cool+fan on, heat off; got heat=%t cool=%t fan=%t", ctl.heat, ctl.cool, ctl.fan)
	}

	clk.advance(5 * time.Second)
	status, _ = m.Step(21.0, ctl)
	if status.State != StateWaiting {
		t.Fatalf("expected waiting once back at target, got %s", status.State)
	}
}

func TestModeOffIdlesAndFanOnKeepsFanRunning(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeOff
	settings.Fan = FanOn
	m, _ := newTestMachine(t, settings)
	ctl := &recordingController{}

	status, _ := m.Step(21.0, ctl)
	if status.State != StateIdle {
		t.Fatalf("expected idle with mode off, got %s", status.State)
	}
	if ctl.heat || ctl.cool {
		t.Error("expected heat and cool off while idle")
	}
	if !ctl.fan {
		t.Error("fan should stay on with fan mode on")
	}
	if status.Message != "Idling" {
		t.Errorf("unexpected message: %q", status.Message)
	}
}

func TestCompressorRest(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeCool
	settings.Rest = RestShort
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	//a hot afternoon the system can't keep up with
	status, _ := m.Step(23.0, ctl)
	if status.State != StateCooling {
		t.Fatalf("expected cooling, got %s", status.State)
	}

	//65 minutes of cooling exceeds the short rest threshold
	clk.advance(65 * time.Minute)
	status, _ = m.Step(22.5, ctl)
	if status.State != StateResting {
		t.Fatalf("expected a rest after 65m of cooling, got %s", status.State)
	}
	if ctl.cool {
		t.Error("compressor must be off while resting")
	}
	if !ctl.fan {
		t.Error("fan must run while resting so the coil thaws")
	}
	if !strings.HasPrefix(status.Message, "Defrosting for ") {
		t.Errorf("unexpected message: %q", status.Message)
	}

	//still resting halfway through
	clk.advance(15 * time.Minute)
	status, _ = m.Step(23.0, ctl)
	if status.State != StateResting {
		t.Fatalf("expected to still be resting, got %s", status.State)
	}

	//after the full rest we pick cooling back up with a clean accumulator
	clk.advance(16 * time.Minute)
	status, _ = m.Step(23.0, ctl)
	if status.State != StateCooling {
		t.Fatalf("expected cooling to resume after the rest, got %s", status.State)
	}

	//a short cooling stint shouldn't trigger another rest
	clk.advance(10 * time.Minute)
	status, _ = m.Step(23.0, ctl)
	if status.State != StateCooling {
		t.Fatalf("expected cooling to continue, got %s", status.State)
	}
}

func TestRestOffNeverRests(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeCool
	settings.Rest = RestOff
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	m.Step(23.0, ctl)
	clk.advance(5 * time.Hour)
	status, _ := m.Step(23.0, ctl)
	if status.State != StateCooling {
		t.Fatalf("rest off should cool indefinitely, got %s", status.State)
	}
}

func TestFreezeProtectionBlocksCooling(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeOff
	settings.TargetTempC = 5
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	//idle first, then the user flips to cool while the space is near freezing
	m.Step(0.3, ctl)
	if _, err := m.Apply(SettingsPatch{Mode: modePtr(ModeCool)}); err != nil {
		t.Fatal(err)
	}
	clk.advance(5 * time.Second)
	status, _ := m.Step(0.3, ctl)
	if status.State == StateCooling {
		t.Fatal("cooling below the freeze cutoff must be blocked")
	}
	if ctl.cool {
		t.Error("cool relay must stay off below the freeze cutoff")
	}
}

func TestFreezeProtectionCanBeDisabled(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeCool
	settings.TargetTempC = 5
	m, err := NewMachine(settings, true)
	if err != nil {
		t.Fatal(err)
	}
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = func() time.Time { return clk.t }

	ctl := &recordingController{}
	status, _ := m.Step(6.2, ctl)
	if status.State != StateCooling {
		t.Fatalf("expected cooling with freeze protection disabled, got %s", status.State)
	}
	clk.advance(5 * time.Second)
	//with protection disabled a freezing reading only stops us via the target check
	status, _ = m.Step(0.2, ctl)
	if status.State != StateWaiting {
		t.Fatalf("expected waiting once below target, got %s", status.State)
	}
}

func TestFailSafeAndRecovery(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeHeat
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	status, _ := m.Step(20.0, ctl)
	if status.State != StateHeating {
		t.Fatalf("expected heating, got %s", status.State)
	}

	clk.advance(5 * time.Second)
	status, err := m.FailSafe(ctl)
	if err != nil {
		t.Fatal(err)
	}
	if ctl.heat || ctl.cool || ctl.fan {
		t.Error("fail-safe must turn every relay off")
	}
	if status.SensorOK {
		t.Error("expected SensorOK false after fail-safe")
	}
	if status.Message != "Sensor offline, controls off" {
		t.Errorf("unexpected message: %q", status.Message)
	}

	//a good reading brings the machine back on its own
	clk.advance(5 * time.Second)
	status, _ = m.Step(20.0, ctl)
	if !status.SensorOK {
		t.Error("expected SensorOK true after a good reading")
	}
	if status.State != StateHeating {
		t.Fatalf("expected heating to resume, got %s", status.State)
	}
}

func TestModeFlipMidCycle(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeHeat
	settings.TargetTempC = 21
	m, clk := newTestMachine(t, settings)
	ctl := &recordingController{}

	m.Step(20.0, ctl)
	if _, err := m.Apply(SettingsPatch{Mode: modePtr(ModeOff)}); err != nil {
		t.Fatal(err)
	}
	clk.advance(5 * time.Second)
	status, _ := m.Step(20.0, ctl)
	if status.State != StateWaiting {
		t.Fatalf("expected waiting right after a mode flip, got %s", status.State)
	}
	if ctl.heat {
		t.Error("heat relay must be off after leaving heat mode")
	}
}

func TestApplyRejectsBadTarget(t *testing.T) {
	m, _ := newTestMachine(t, DefaultSettings())

	bad := float32(50)
	if _, err := m.Apply(SettingsPatch{TargetTempC: &bad}); err == nil {
		t.Error("expected an error for a 50C target")
	}
	//the old settings must survive a rejected patch
	if m.Settings().TargetTempC != DefaultSettings().TargetTempC {
		t.Error("rejected patch must not change settings")
	}
}

func TestWaitingMessageUsesPreferredUnit(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = ModeHeat
	settings.TargetTempC = 21
	settings.UseFahrenheit = true
	m, _ := newTestMachine(t, settings)
	ctl := &recordingController{}

	status, _ := m.Step(20.7, ctl)
	if status.Message != "Waiting for 69.1°F" {
		t.Errorf("unexpected message: %q", status.Message)
	}

	if _, err := m.Apply(SettingsPatch{UseFahrenheit: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	status = m.Status()
	if status.Message != "Waiting for 20.6°C" {
		t.Errorf("unexpected message: %q", status.Message)
	}
}

func modePtr(m Mode) *Mode { return &m }

func boolPtr(b bool) *bool { return &b }
