// Package thermapi is a small HTTP client for the daemon's local API. Used
// by the CLI and handy for scripting against the device.
package thermapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Settings mirrors the daemon's settings document. Enums travel as their
// string forms; the daemon rejects anything it doesn't recognize.
type Settings struct {
	TargetTempC   float32 `json:"targetTempC"`
	Mode          string  `json:"mode"`
	Differential  string  `json:"differential"`
	Rest          string  `json:"rest"`
	Fan           string  `json:"fan"`
	UseFahrenheit bool    `json:"useFahrenheit"`
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	TargetTempC   *float32 `json:"targetTempC,omitempty"`
	Mode          *string  `json:"mode,omitempty"`
	Differential  *string  `json:"differential,omitempty"`
	Rest          *string  `json:"rest,omitempty"`
	Fan           *string  `json:"fan,omitempty"`
	UseFahrenheit *bool    `json:"useFahrenheit,omitempty"`
}

type Status struct {
	State        string   `json:"state"`
	Message      string   `json:"message"`
	CurrentTempC float32  `json:"currentTempC"`
	CurrentTempF float32  `json:"currentTempF"`
	Settings     Settings `json:"settings"`
	HeatOn       bool     `json:"heatOn"`
	CoolOn       bool     `json:"coolOn"`
	FanOn        bool     `json:"fanOn"`
	SensorOK     bool     `json:"sensorOk"`
}

type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float32   `json:"temperatureC"`
	TargetTempC  float32   `json:"targetTempC"`
	RunState     string    `json:"runState"`
}

type History struct {
	Samples      []Sample `json:"samples"`
	AverageTempC float32  `json:"averageTempC"`
}

type Client struct {
	baseUrl string
}

func New(baseUrl string) (*Client, error) {
	cln := Client{baseUrl: baseUrl}
	if !cln.Healthy() {
		return nil, fmt.Errorf("could not connect to the thermostat at %s", baseUrl)
	}
	return &cln, nil
}

const stdTimeout = time.Second * 5

func (cln *Client) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), stdTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", cln.baseUrl+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (cln *Client) GetStatus() (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stdTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", cln.baseUrl+"/api/status", nil)
	if err != nil {
		return Status{}, fmt.Errorf("create status request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := decodeResponse(resp, &status); err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return status, nil
}

func (cln *Client) ApplySettings(patch SettingsPatch) (Status, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return Status{}, fmt.Errorf("encode settings: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stdTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", cln.baseUrl+"/api/settings", bytes.NewReader(body))
	if err != nil {
		return Status{}, fmt.Errorf("create settings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("post settings: %w", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := decodeResponse(resp, &status); err != nil {
		return Status{}, fmt.Errorf("settings: %w", err)
	}
	return status, nil
}

func (cln *Client) GetHistory(window time.Duration) (History, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stdTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/api/history?window=%s", cln.baseUrl, window)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return History{}, fmt.Errorf("create history request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return History{}, fmt.Errorf("get history: %w", err)
	}
	defer resp.Body.Close()

	var history History
	if err := decodeResponse(resp, &history); err != nil {
		return History{}, fmt.Errorf("history: %w", err)
	}
	return history, nil
}

// decodeResponse unmarshals a 2xx body into v; any other status is turned
// into an error carrying the server's message.
func decodeResponse(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("server says: %s", apiErr.Message)
		}
		return fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
