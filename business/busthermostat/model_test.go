package busthermostat_test

import (
	"encoding/json"
	"testing"

	"github.com/jroedel/thermostat/business/busthermostat"
)

func TestSettingsJsonRoundTrip(t *testing.T) {
	settings := busthermostat.Settings{
		TargetTempC:   19.5,
		Mode:          busthermostat.ModeCool,
		Differential:  busthermostat.DiffFast,
		Rest:          busthermostat.RestMedium,
		Fan:           busthermostat.FanOn,
		UseFahrenheit: false,
	}

	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatal(err)
	}

	var decoded busthermostat.Settings
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != settings {
		t.Fatalf("expected %+v, got %+v", settings, decoded)
	}
}

func TestSettingsPatchRejectsUnknownEnum(t *testing.T) {
	var patch busthermostat.SettingsPatch
	err := json.Unmarshal([]byte(`{"mode":"defrost"}`), &patch)
	if err == nil {
		t.Error("expected an error for an unknown mode")
	}

	err = json.Unmarshal([]byte(`{"fan":"sometimes"}`), &patch)
	if err == nil {
		t.Error("expected an error for an unknown fan mode")
	}

	//a valid patch leaves the untouched fields nil
	err = json.Unmarshal([]byte(`{"mode":"heat"}`), &patch)
	if err != nil {
		t.Fatal(err)
	}
	if patch.Mode == nil || *patch.Mode != busthermostat.ModeHeat {
		t.Error("expected mode heat")
	}
	if patch.TargetTempC != nil {
		t.Error("expected target to stay nil")
	}
}

func TestValidate(t *testing.T) {
	settings := busthermostat.DefaultSettings()
	if err := settings.Validate(); err != nil {
		t.Errorf("default settings must validate: %s", err)
	}

	settings.TargetTempC = 2
	if err := settings.Validate(); err == nil {
		t.Error("expected an error for a 2C target")
	}

	settings = busthermostat.DefaultSettings()
	settings.Mode = busthermostat.Mode(42)
	if err := settings.Validate(); err == nil {
		t.Error("expected an error for a bogus mode")
	}
}

func TestFormatTemp(t *testing.T) {
	if got := busthermostat.FormatTemp(21, true); got != "69.8°F" {
		t.Errorf("expected 69.8°F, got %q", got)
	}
	if got := busthermostat.FormatTemp(21, false); got != "21.0°C" {
		t.Errorf("expected 21.0°C, got %q", got)
	}
}

func TestUnitConversionsInverse(t *testing.T) {
	f := busthermostat.CelsiusToFahrenheit(21.5)
	back := busthermostat.FahrenheitToCelsius(f)
	if back < 21.49 || back > 21.51 {
		t.Errorf("round trip drifted: %f", back)
	}
}
