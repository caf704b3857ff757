package appweb_test

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jroedel/thermostat/app/sdk/appthermostat"
	"github.com/jroedel/thermostat/app/sdk/appweb"
	"github.com/jroedel/thermostat/business/busstate"
	"github.com/jroedel/thermostat/business/busthermostat"
	"github.com/jroedel/thermostat/foundation/clientsqlite"
)

type steadyTherm struct {
	tempC float32
}

func (t *steadyTherm) ReadTemperatureC() (float32, error) {
	return t.tempC, nil
}

type nopRelays struct{}

func (nopRelays) SetHeating(bool) error { return nil }
func (nopRelays) SetCooling(bool) error { return nil }
func (nopRelays) SetFan(bool) error     { return nil }

func newTestServer(t *testing.T) (*appweb.Server, *appthermostat.App) {
	t.Helper()

	logger := log.New(os.Stdout, "[appweb_test] ", 0)

	cln, err := clientsqlite.New(filepath.Join(t.TempDir(), "thermostat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cln.Close() })

	machine, err := busthermostat.NewMachine(busthermostat.DefaultSettings(), false)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	hub := appweb.NewHub(logger)

	app, err := appthermostat.New(appthermostat.Config{
		Machine:     machine,
		Store:       busstate.New(cln),
		Thermometer: &steadyTherm{tempC: 20.5},
		Relays:      nopRelays{},
		Logger:      logger,
		Registry:    reg,
		Broadcaster: hub,
	})
	if err != nil {
		t.Fatal(err)
	}
	hub.BindApplier(app.ApplySettings)

	srv, err := appweb.New(app, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
	if err != nil {
		t.Fatal(err)
	}
	return srv, app
}

func TestGetStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status busthermostat.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Settings.TargetTempC != busthermostat.DefaultSettings().TargetTempC {
		t.Errorf("unexpected target: %f", status.Settings.TargetTempC)
	}
	if status.SensorOK {
		t.Error("expected SensorOK false before the first reading")
	}
}

func TestPostSettings(t *testing.T) {
	srv, app := newTestServer(t)

	body := strings.NewReader(`{"targetTempC": 18.5, "mode": "heat"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/settings", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	settings := app.Status().Settings
	if settings.TargetTempC != 18.5 || settings.Mode != busthermostat.ModeHeat {
		t.Errorf("settings weren't applied: %+v", settings)
	}
}

func TestPostSettingsRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"broken json", `{"mode":`, http.StatusBadRequest},
		{"unknown mode", `{"mode": "defrost"}`, http.StatusBadRequest},
		{"out of range target", `{"targetTempC": 60}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/settings", strings.NewReader(tt.body)))
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			var msg appweb.ApiMessage
			if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Status.String() != "NOK" {
				t.Errorf("expected a NOK envelope, got %+v", msg)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	srv, app := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Start(ctx)
	waitForPass(t, app)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history?window=1h", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history appweb.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history.Samples) == 0 {
		t.Fatal("expected at least one sample after a loop pass")
	}
	if history.Samples[0].TemperatureC != 20.5 {
		t.Errorf("unexpected sample temperature: %f", history.Samples[0].TemperatureC)
	}
	if history.AverageTempC != 20.5 {
		t.Errorf("unexpected average: %f", history.AverageTempC)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history?window=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad window, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, app := newTestServer(t)

	//no loop pass yet
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 before the loop runs, got %d", rec.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Start(ctx)
	waitForPass(t, app)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after a loop pass, got %d", rec.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "thermostat_target_temperature_celsius") {
		t.Error("expected the thermostat metrics in the exposition")
	}
}

func waitForPass(t *testing.T, app *appthermostat.App) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for app.LastPass().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("control loop never completed a pass")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
