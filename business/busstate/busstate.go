// Package busstate persists the things that must survive a power cycle:
// the user's settings and a rolling log of temperature samples.
package busstate

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jroedel/thermostat/business/busthermostat"
	"github.com/jroedel/thermostat/foundation/clientsqlite"
)

type Store struct {
	cln *clientsqlite.ClientSqlite
	//random string to identify the current execution of the daemon
	executionID string
}

func New(cln *clientsqlite.ClientSqlite) *Store {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const lenExecutionID = 8

	b := make([]byte, lenExecutionID)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}

	return &Store{
		cln:         cln,
		executionID: string(b),
	}
}

// SaveSettings upserts the singleton settings row. Called on every accepted
// change so a power cut can lose at most the change in flight.
func (s *Store) SaveSettings(settings busthermostat.Settings) error {
	const query = `
		INSERT INTO thermosettings
			(Id, TargetTempC, Mode, Differential, Rest, Fan, UseFahrenheit, UpdatedAt)
		VALUES
			(1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (Id) DO UPDATE SET
			TargetTempC = excluded.TargetTempC,
			Mode = excluded.Mode,
			Differential = excluded.Differential,
			Rest = excluded.Rest,
			Fan = excluded.Fan,
			UseFahrenheit = excluded.UseFahrenheit,
			UpdatedAt = excluded.UpdatedAt`

	err := s.cln.Create(query,
		settings.TargetTempC,
		settings.Mode.String(),
		settings.Differential.String(),
		settings.Rest.String(),
		settings.Fan.String(),
		settings.UseFahrenheit,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	return nil
}

// LoadSettings returns the persisted settings, or ok=false on a fresh
// database. A row that no longer parses (say, after a downgrade) is
// reported as an error so the caller can decide to fall back to defaults.
func (s *Store) LoadSettings() (busthermostat.Settings, bool, error) {
	const query = `
		SELECT TargetTempC, Mode, Differential, Rest, Fan, UseFahrenheit
		FROM thermosettings
		WHERE Id = 1`

	var (
		targetTempC   float32
		mode          string
		differential  string
		rest          string
		fan           string
		useFahrenheit bool
	)
	err := s.cln.QueryRow(query, []any{}, &targetTempC, &mode, &differential, &rest, &fan, &useFahrenheit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return busthermostat.Settings{}, false, nil
		}
		return busthermostat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}

	settings := busthermostat.Settings{
		TargetTempC:   targetTempC,
		UseFahrenheit: useFahrenheit,
	}
	if settings.Mode, err = busthermostat.ParseMode(mode); err != nil {
		return busthermostat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	if settings.Differential, err = busthermostat.ParseDifferential(differential); err != nil {
		return busthermostat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	if settings.Rest, err = busthermostat.ParseRestMode(rest); err != nil {
		return busthermostat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	if settings.Fan, err = busthermostat.ParseFanMode(fan); err != nil {
		return busthermostat.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}

	return settings, true, nil
}

// RecordSample appends one control-loop observation.
func (s *Store) RecordSample(sample Sample) error {
	const query = `
		INSERT INTO templog
			(ExecutionIdentifier, Timestamp, TemperatureC, TargetTempC, RunState)
		VALUES
			(?, ?, ?, ?, ?)`

	err := s.cln.Create(query,
		s.executionID,
		sample.Timestamp.Unix(),
		sample.TemperatureC,
		sample.TargetTempC,
		sample.RunState)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}

	return nil
}

// RecentSamples returns the samples observed within the given window,
// oldest first.
func (s *Store) RecentSamples(window time.Duration) ([]Sample, error) {
	const query = `
		SELECT Id, ExecutionIdentifier, Timestamp, TemperatureC, TargetTempC, RunState
		FROM templog
		WHERE Timestamp >= ?
		ORDER BY Timestamp ASC`

	timestampRef := time.Now().Add(-window).Unix()

	//96 covers a typical day of samples at the default interval
	samples := make([]Sample, 0, 96)
	err := s.cln.Query(query, []any{timestampRef}, func(rows *sql.Rows) error {
		var sample Sample
		var ts int64
		if err := rows.Scan(&sample.DbAutoId, &sample.ExecutionID, &ts, &sample.TemperatureC, &sample.TargetTempC, &sample.RunState); err != nil {
			return err
		}
		sample.Timestamp = time.Unix(ts, 0)
		samples = append(samples, sample)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent samples: %w", err)
	}

	return samples, nil
}

// AverageRecentTemperature averages readings from this execution over the
// given window. sql.ErrNoRows means we haven't logged anything yet.
func (s *Store) AverageRecentTemperature(window time.Duration) (float32, error) {
	const query = `
		SELECT AVG(TemperatureC)
		FROM templog
		WHERE ExecutionIdentifier = ? AND Timestamp >= ?`

	timestampRef := time.Now().Add(-window).Unix()

	var avgTemp sql.NullFloat64
	err := s.cln.QueryRow(query, []any{s.executionID, timestampRef}, &avgTemp)
	if err != nil {
		return 0, err
	}
	if !avgTemp.Valid {
		return 0, sql.ErrNoRows
	}
	return float32(avgTemp.Float64), nil
}

// PruneSamplesBefore drops history older than the cutoff so the database
// on the device's flash doesn't grow without bound.
func (s *Store) PruneSamplesBefore(cutoff time.Time) error {
	return s.cln.Execute("DELETE FROM templog WHERE Timestamp < ?", cutoff.Unix())
}
