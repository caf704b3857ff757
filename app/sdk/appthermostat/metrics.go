package appthermostat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jroedel/thermostat/business/busthermostat"
)

type metrics struct {
	currentTemp        prometheus.Gauge
	targetTemp         prometheus.Gauge
	heatRunning        prometheus.Gauge
	coolRunning        prometheus.Gauge
	fanRunning         prometheus.Gauge
	sensorOk           prometheus.Gauge
	restCyclesTotal    prometheus.Counter
	failsafeTotal      prometheus.Counter
	sensorReadFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		currentTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "current_temperature_celsius",
			Help:      "Last temperature reading",
		}),
		targetTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "target_temperature_celsius",
			Help:      "Configured target temperature",
		}),
		heatRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "heat_running_binary",
			Help:      "Registers when the heat relay is energized",
		}),
		coolRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "cool_running_binary",
			Help:      "Registers when the cool relay is energized",
		}),
		fanRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "fan_running_binary",
			Help:      "Registers when the fan relay is energized",
		}),
		sensorOk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thermostat",
			Name:      "sensor_ok_binary",
			Help:      "Registers when the thermometer is delivering readings",
		}),
		restCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thermostat",
			Name:      "rest_cycles_total",
			Help:      "Increases when the compressor is forced into a defrost rest",
		}),
		failsafeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thermostat",
			Name:      "failsafe_total",
			Help:      "Increases when a sensor outage shuts every relay off",
		}),
		sensorReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thermostat",
			Name:      "sensor_read_failures_total",
			Help:      "Increases on every failed thermometer read",
		}),
	}

	reg.MustRegister(
		m.currentTemp,
		m.targetTemp,
		m.heatRunning,
		m.coolRunning,
		m.fanRunning,
		m.sensorOk,
		m.restCyclesTotal,
		m.failsafeTotal,
		m.sensorReadFailures,
	)
	return m
}

func boolToBinary(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *metrics) observeStatus(status busthermostat.Status) {
	if status.SensorOK {
		m.currentTemp.Set(float64(status.CurrentTempC))
	}
	m.targetTemp.Set(float64(status.Settings.TargetTempC))
	m.heatRunning.Set(boolToBinary(status.HeatOn))
	m.coolRunning.Set(boolToBinary(status.CoolOn))
	m.fanRunning.Set(boolToBinary(status.FanOn))
	m.sensorOk.Set(boolToBinary(status.SensorOK))
}
