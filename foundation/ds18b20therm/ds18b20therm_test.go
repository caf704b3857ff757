package ds18b20therm

import (
	"log"
	"os"
	"path"
	"testing"
)

func TestProcessTemperatureFileBytes(t *testing.T) {
	temp, err := processTemperatureFileBytes([]byte("21375\n"))
	if err != nil {
		t.Fatal(err)
	}
	if temp < 21.37 || temp > 21.38 {
		t.Errorf("expected 21.375, got %f", temp)
	}

	temp, err = processTemperatureFileBytes([]byte("-5500\n"))
	if err != nil {
		t.Fatal(err)
	}
	if temp != -5.5 {
		t.Errorf("expected -5.5, got %f", temp)
	}

	if _, err = processTemperatureFileBytes([]byte("")); err == nil {
		t.Error("expected an error for an empty file")
	}

	if _, err = processTemperatureFileBytes([]byte("not-a-number\n")); err == nil {
		t.Error("expected an error for garbage content")
	}

	//the kernel reporting 120C means something is wrong with the wiring
	if _, err = processTemperatureFileBytes([]byte("120000\n")); err == nil {
		t.Error("expected an error for an implausible temperature")
	}
}

func TestReadTemperatureC(t *testing.T) {
	filePath := path.Join(t.TempDir(), "temperature")
	if err := os.WriteFile(filePath, []byte("19250\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := log.New(os.Stdout, "[ds18b20therm_test] ", 0)
	rdr, err := New(filePath, logger)
	if err != nil {
		t.Fatal(err)
	}

	temp, err := rdr.ReadTemperatureC()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 19.25 {
		t.Errorf("expected 19.25, got %f", temp)
	}
}

func TestNewRequiresPath(t *testing.T) {
	logger := log.New(os.Stdout, "[ds18b20therm_test] ", 0)
	if _, err := New("", logger); err == nil {
		t.Error("expected an error since we didn't give a device path")
	}
}
