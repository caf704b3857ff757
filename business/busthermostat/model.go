package busthermostat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Settings is everything the user can change from the front panel. The
// base unit is always Celsius; UseFahrenheit only affects formatting.
type Settings struct {
	TargetTempC   float32      `json:"targetTempC"`
	Mode          Mode         `json:"mode"`
	Differential  Differential `json:"differential"`
	Rest          RestMode     `json:"rest"`
	Fan           FanMode      `json:"fan"`
	UseFahrenheit bool         `json:"useFahrenheit"`
}

// Targets outside this window are either typos or a sensor problem; the
// hardware can't reasonably chase them either way.
const (
	MinTargetTempC = 5
	MaxTargetTempC = 35
)

func DefaultSettings() Settings {
	return Settings{
		TargetTempC:   21.0, // ~70F
		Mode:          ModeOff,
		Differential:  DiffNormal,
		Rest:          RestOff,
		Fan:           FanAuto,
		UseFahrenheit: true,
	}
}

func (s Settings) Validate() error {
	if s.TargetTempC < MinTargetTempC || s.TargetTempC > MaxTargetTempC {
		return fmt.Errorf("target temperature %.1fC is outside the accepted range %d..%dC", s.TargetTempC, MinTargetTempC, MaxTargetTempC)
	}
	if s.Mode.String() == "" {
		return fmt.Errorf("invalid mode: %#v", s.Mode)
	}
	if s.Differential.String() == "" {
		return fmt.Errorf("invalid differential: %#v", s.Differential)
	}
	if s.Rest.String() == "" {
		return fmt.Errorf("invalid rest mode: %#v", s.Rest)
	}
	if s.Fan.String() == "" {
		return fmt.Errorf("invalid fan mode: %#v", s.Fan)
	}
	return nil
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	TargetTempC   *float32      `json:"targetTempC"`
	Mode          *Mode         `json:"mode"`
	Differential  *Differential `json:"differential"`
	Rest          *RestMode     `json:"rest"`
	Fan           *FanMode      `json:"fan"`
	UseFahrenheit *bool         `json:"useFahrenheit"`
}

func (s Settings) withPatch(p SettingsPatch) Settings {
	if p.TargetTempC != nil {
		s.TargetTempC = *p.TargetTempC
	}
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.Differential != nil {
		s.Differential = *p.Differential
	}
	if p.Rest != nil {
		s.Rest = *p.Rest
	}
	if p.Fan != nil {
		s.Fan = *p.Fan
	}
	if p.UseFahrenheit != nil {
		s.UseFahrenheit = *p.UseFahrenheit
	}
	return s
}

func CelsiusToFahrenheit(tempC float32) float32 {
	return tempC*9/5 + 32
}

func FahrenheitToCelsius(tempF float32) float32 {
	return (tempF - 32) * 5 / 9
}

// FormatTemp renders a Celsius value in the user's preferred unit.
func FormatTemp(tempC float32, useFahrenheit bool) string {
	if useFahrenheit {
		return fmt.Sprintf("%.1f°F", CelsiusToFahrenheit(tempC))
	}
	return fmt.Sprintf("%.1f°C", tempC)
}

type Mode int

const (
	ModeHeat Mode = iota + 1
	ModeCool
	ModeOff
)

func (m Mode) String() string {
	switch m {
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	case ModeOff:
		return "off"
	default:
		return ""
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return marshalEnum(m.String(), "mode")
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := ParseMode(j)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "heat":
		return ModeHeat, nil
	case "cool":
		return ModeCool, nil
	case "off":
		return ModeOff, nil
	}
	return 0, fmt.Errorf("unknown mode: %q", s)
}

// Differential picks how far past the target the temperature must drift
// before the system kicks back in. Slower means fewer, longer cycles.
type Differential int

const (
	DiffSlow Differential = iota + 1
	DiffNormal
	DiffFast
)

func (d Differential) String() string {
	switch d {
	case DiffSlow:
		return "slow"
	case DiffNormal:
		return "normal"
	case DiffFast:
		return "fast"
	default:
		return ""
	}
}

func (d Differential) MarshalJSON() ([]byte, error) {
	return marshalEnum(d.String(), "differential")
}

func (d *Differential) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := ParseDifferential(j)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func ParseDifferential(s string) (Differential, error) {
	switch s {
	case "slow":
		return DiffSlow, nil
	case "normal":
		return DiffNormal, nil
	case "fast":
		return DiffFast, nil
	}
	return 0, fmt.Errorf("unknown differential: %q", s)
}

// RestMode controls how much cumulative cooling is allowed before the
// compressor is forced to rest and thaw.
type RestMode int

const (
	RestShort RestMode = iota + 1
	RestMedium
	RestLong
	RestOff
)

func (r RestMode) String() string {
	switch r {
	case RestShort:
		return "short"
	case RestMedium:
		return "medium"
	case RestLong:
		return "long"
	case RestOff:
		return "off"
	default:
		return ""
	}
}

func (r RestMode) MarshalJSON() ([]byte, error) {
	return marshalEnum(r.String(), "rest mode")
}

func (r *RestMode) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := ParseRestMode(j)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseRestMode(s string) (RestMode, error) {
	switch s {
	case "short":
		return RestShort, nil
	case "medium":
		return RestMedium, nil
	case "long":
		return RestLong, nil
	case "off":
		return RestOff, nil
	}
	return 0, fmt.Errorf("unknown rest mode: %q", s)
}

type FanMode int

const (
	FanAuto FanMode = iota + 1
	FanOn
)

func (f FanMode) String() string {
	switch f {
	case FanAuto:
		return "auto"
	case FanOn:
		return "on"
	default:
		return ""
	}
}

func (f FanMode) MarshalJSON() ([]byte, error) {
	return marshalEnum(f.String(), "fan mode")
}

func (f *FanMode) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := ParseFanMode(j)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func ParseFanMode(s string) (FanMode, error) {
	switch s {
	case "auto":
		return FanAuto, nil
	case "on":
		return FanOn, nil
	}
	return 0, fmt.Errorf("unknown fan mode: %q", s)
}

// RunState is what the machine is actually doing right now, as opposed to
// Mode which is what the user asked for.
type RunState int

const (
	StateWaiting RunState = iota + 1
	StateHeating
	StateCooling
	StateResting
	StateIdle
)

func (s RunState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateHeating:
		return "heating"
	case StateCooling:
		return "cooling"
	case StateResting:
		return "resting"
	case StateIdle:
		return "idle"
	default:
		return ""
	}
}

func (s RunState) MarshalJSON() ([]byte, error) {
	return marshalEnum(s.String(), "run state")
}

func (s *RunState) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := ParseRunState(j)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseRunState(s string) (RunState, error) {
	switch s {
	case "waiting":
		return StateWaiting, nil
	case "heating":
		return StateHeating, nil
	case "cooling":
		return StateCooling, nil
	case "resting":
		return StateResting, nil
	case "idle":
		return StateIdle, nil
	}
	return 0, fmt.Errorf("unknown run state: %q", s)
}

func marshalEnum(s string, kind string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("can't marshal zero-valued %s", kind)
	}
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(s)
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}
