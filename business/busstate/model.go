package busstate

import "time"

// Sample is one control-loop observation kept for the history view.
type Sample struct {
	DbAutoId     int       `json:"-"`
	ExecutionID  string    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float32   `json:"temperatureC"`
	TargetTempC  float32   `json:"targetTempC"`
	RunState     string    `json:"runState"`
}
